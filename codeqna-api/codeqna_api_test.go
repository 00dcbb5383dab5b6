package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"codeqna/forum"
)

type testEnv struct {
	t   *testing.T
	srv *httptest.Server
	db  *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.SetOutput(io.Discard)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "codeqna.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := prometheus.NewRegistry()
	api := NewAPI(db, newSessionStore(defaultConfig()), InitMetrics(reg), newAuthLimiter(rate.Inf, 1, nil))
	srv := httptest.NewServer(newRouter(api, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, db: db}
}

func (e *testEnv) session() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		e.t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

// call performs a request and returns the status and raw body.
func (e *testEnv) call(client *http.Client, method, path string, body interface{}) (int, []byte) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

// mustID performs a request that has to succeed and returns the created id.
func (e *testEnv) mustID(client *http.Client, path string, body interface{}) uint {
	e.t.Helper()
	status, data := e.call(client, "POST", path, body)
	if status != http.StatusOK {
		e.t.Fatalf("POST %s: status %d body %s", path, status, data)
	}
	var res Response
	if err := json.Unmarshal(data, &res); err != nil {
		e.t.Fatalf("decode %s: %v", data, err)
	}
	if !res.Success || res.ID == 0 {
		e.t.Fatalf("POST %s: unexpected response %s", path, data)
	}
	return res.ID
}

func (e *testEnv) register(name, email, password string) (int, []byte) {
	return e.call(http.DefaultClient, "POST", "/register", RegisterRequest{Name: name, Email: email, Password: password})
}

func (e *testEnv) loggedIn(name string) (*http.Client, uint) {
	e.t.Helper()
	email := name + "@example.com"
	id := e.mustID(http.DefaultClient, "/register", RegisterRequest{Name: name, Email: email, Password: "default"})
	client := e.session()
	e.mustID(client, "/login", LoginRequest{Email: email, Password: "default"})
	return client, id
}

func assertStatus(t *testing.T, got, want int, body []byte) {
	t.Helper()
	if got != want {
		t.Errorf("status = %d, want %d (body %s)", got, want, body)
	}
}

func assertContains(t *testing.T, body []byte, expected string) {
	t.Helper()
	if !strings.Contains(string(body), expected) {
		t.Errorf("Expected response to contain %q but got %q", expected, body)
	}
}

type replyNode struct {
	ID      uint        `json:"id"`
	Author  *string     `json:"author"`
	Replies []replyNode `json:"replies"`
}

type channelResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Channel struct {
			ID     uint    `json:"id"`
			Topic  string  `json:"topic"`
			Author *string `json:"author"`
		} `json:"channel"`
		Messages []replyNode            `json:"messages"`
		Ratings  map[string]forum.Votes `json:"ratings"`
	} `json:"data"`
}

func (e *testEnv) channel(id uint) channelResponse {
	e.t.Helper()
	status, data := e.call(http.DefaultClient, "GET", fmt.Sprintf("/channel/%d", id), nil)
	if status != http.StatusOK {
		e.t.Fatalf("GET /channel/%d: status %d body %s", id, status, data)
	}
	var res channelResponse
	if err := json.Unmarshal(data, &res); err != nil {
		e.t.Fatalf("decode channel: %v", err)
	}
	return res
}

// --- TESTS ---
func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.register("ada", "ada@example.com", "default")
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, `"success":true`)

	status, body = env.register("ada", "ada@example.com", "default")
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Email already registered.")

	status, body = env.register("", "meh@example.com", "default")
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Error: missing data.")

	status, body = env.register("meh", "meh@example.com", "")
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Error: missing data.")

	status, body = env.register("meh", "broken", "foo")
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "valid email address")
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	env.register("ada", "ada@example.com", "default")
	client := env.session()

	status, body := env.call(client, "GET", "/me", nil)
	assertStatus(t, status, http.StatusUnauthorized, body)

	status, body = env.call(client, "POST", "/login", LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Wrong email or password")

	status, body = env.call(client, "POST", "/login", LoginRequest{Email: "nobody@example.com", Password: "default"})
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "register for an account")

	status, body = env.call(client, "POST", "/login", LoginRequest{Email: "ada@example.com", Password: "default"})
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, "Login successful.")

	status, body = env.call(client, "GET", "/me", nil)
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, `"email":"ada@example.com"`)
	assertContains(t, body, `"role":"user"`)
	if strings.Contains(string(body), "PasswordHash") || strings.Contains(string(body), "$2a$") {
		t.Errorf("password hash leaked: %s", body)
	}

	status, body = env.call(client, "POST", "/logout", nil)
	assertStatus(t, status, http.StatusOK, body)

	status, body = env.call(client, "GET", "/me", nil)
	assertStatus(t, status, http.StatusUnauthorized, body)
}

func TestPostingRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	anon := env.session()

	for _, path := range []string{"/createchannel", "/postmessage", "/postreply", "/rate"} {
		status, body := env.call(anon, "POST", path, map[string]string{"content": "x"})
		assertStatus(t, status, http.StatusUnauthorized, body)
		assertContains(t, body, "Unauthorized. Please log in.")
	}
}

func TestPostValidation(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.loggedIn("ada")

	status, body := env.call(client, "POST", "/createchannel", ChannelRequest{Topic: "only topic"})
	assertStatus(t, status, http.StatusBadRequest, body)

	status, body = env.call(client, "POST", "/postmessage", MessageRequest{ChannelID: 42, Content: "hi"})
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Invalid channel ID.")

	channelID := env.mustID(client, "/createchannel", ChannelRequest{Topic: "t", Content: "c"})
	messageID := env.mustID(client, "/postmessage", MessageRequest{ChannelID: channelID, Content: "m"})
	replyID := env.mustID(client, "/postreply", ReplyRequest{MessageID: &messageID, Content: "r"})

	status, body = env.call(client, "POST", "/postreply", ReplyRequest{MessageID: &messageID, ParentReplyID: &replyID, Content: "both"})
	assertStatus(t, status, http.StatusBadRequest, body)

	status, body = env.call(client, "POST", "/postreply", ReplyRequest{Content: "neither"})
	assertStatus(t, status, http.StatusBadRequest, body)

	missing := uint(999)
	status, body = env.call(client, "POST", "/postreply", ReplyRequest{ParentReplyID: &missing, Content: "orphan"})
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Invalid message or parent reply ID.")

	up := true
	status, body = env.call(client, "POST", "/rate", RateRequest{ChannelID: &channelID, MessageID: &messageID, IsUpVote: &up})
	assertStatus(t, status, http.StatusBadRequest, body)

	status, body = env.call(client, "POST", "/rate", RateRequest{ReplyID: &missing, IsUpVote: &up})
	assertStatus(t, status, http.StatusBadRequest, body)
	assertContains(t, body, "Invalid rating target.")

	status, body = env.call(client, "POST", "/rate", RateRequest{ReplyID: &replyID})
	assertStatus(t, status, http.StatusBadRequest, body)
}

func TestChannelThread(t *testing.T) {
	env := newTestEnv(t)
	ada, _ := env.loggedIn("ada")
	bob, _ := env.loggedIn("bob")

	channelID := env.mustID(ada, "/createchannel", ChannelRequest{Topic: "Go generics", Content: "When should I use them?"})
	first := env.mustID(ada, "/postmessage", MessageRequest{ChannelID: channelID, Content: "first"})
	second := env.mustID(bob, "/postmessage", MessageRequest{ChannelID: channelID, Content: "second"})
	reply := env.mustID(bob, "/postreply", ReplyRequest{MessageID: &first, Content: "direct"})
	nested := env.mustID(ada, "/postreply", ReplyRequest{ParentReplyID: &reply, Content: "nested"})

	// a nested reply in another channel must not leak into this one
	other := env.mustID(ada, "/createchannel", ChannelRequest{Topic: "Other", Content: "elsewhere"})
	otherMsg := env.mustID(ada, "/postmessage", MessageRequest{ChannelID: other, Content: "other message"})
	otherReply := env.mustID(ada, "/postreply", ReplyRequest{MessageID: &otherMsg, Content: "other reply"})
	env.mustID(ada, "/postreply", ReplyRequest{ParentReplyID: &otherReply, Content: "other nested"})

	up, down := true, false
	vote := func(client *http.Client, req RateRequest) {
		t.Helper()
		status, body := env.call(client, "POST", "/rate", req)
		assertStatus(t, status, http.StatusOK, body)
	}
	vote(ada, RateRequest{ReplyID: &reply, IsUpVote: &up})
	vote(ada, RateRequest{ReplyID: &reply, IsUpVote: &up})
	vote(bob, RateRequest{ReplyID: &reply, IsUpVote: &down})
	vote(bob, RateRequest{ChannelID: &channelID, IsUpVote: &down})
	vote(bob, RateRequest{ChannelID: &channelID, IsUpVote: &up})
	vote(ada, RateRequest{MessageID: &second, IsUpVote: &up})

	res := env.channel(channelID)
	if !res.Success || res.Data.Channel.ID != channelID || res.Data.Channel.Topic != "Go generics" {
		t.Fatalf("unexpected channel: %+v", res.Data.Channel)
	}
	if res.Data.Channel.Author == nil || *res.Data.Channel.Author != "ada" {
		t.Errorf("channel author = %v", res.Data.Channel.Author)
	}

	msgs := res.Data.Messages
	if len(msgs) != 2 || msgs[0].ID != second || msgs[1].ID != first {
		t.Fatalf("messages = %+v, want [%d %d]", msgs, second, first)
	}
	if len(msgs[0].Replies) != 0 {
		t.Errorf("second message replies = %+v", msgs[0].Replies)
	}
	if len(msgs[1].Replies) != 1 || msgs[1].Replies[0].ID != reply {
		t.Fatalf("first message replies = %+v", msgs[1].Replies)
	}
	inner := msgs[1].Replies[0].Replies
	if len(inner) != 1 || inner[0].ID != nested || len(inner[0].Replies) != 0 {
		t.Errorf("nested replies = %+v", inner)
	}

	tallies := map[string]forum.Votes{
		fmt.Sprintf("reply:%d", reply):       {Upvotes: 1, Downvotes: 1},
		fmt.Sprintf("reply:%d", nested):      {},
		fmt.Sprintf("channel:%d", channelID): {Upvotes: 1},
		fmt.Sprintf("message:%d", second):    {Upvotes: 1},
		fmt.Sprintf("message:%d", first):     {},
	}
	for key, want := range tallies {
		got, ok := res.Data.Ratings[key]
		if !ok {
			t.Errorf("missing rating entry %s in %v", key, res.Data.Ratings)
			continue
		}
		if got != want {
			t.Errorf("%s = %+v, want %+v", key, got, want)
		}
	}

	var count int64
	env.db.Model(&Rating{}).Where("reply_id = ?", reply).Count(&count)
	if count != 2 {
		t.Errorf("stored ratings for reply = %d, want 2", count)
	}
}

func TestChannelNotFound(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.call(http.DefaultClient, "GET", "/channel/12345", nil)
	assertStatus(t, status, http.StatusNotFound, body)
	assertContains(t, body, "Channel not found.")

	status, body = env.call(http.DefaultClient, "GET", "/channel/abc", nil)
	assertStatus(t, status, http.StatusBadRequest, body)
}

func TestChannelsListing(t *testing.T) {
	env := newTestEnv(t)
	ada, _ := env.loggedIn("ada")

	older := env.mustID(ada, "/createchannel", ChannelRequest{Topic: "older", Content: "c"})
	newer := env.mustID(ada, "/createchannel", ChannelRequest{Topic: "newer", Content: "c"})
	env.mustID(ada, "/postmessage", MessageRequest{ChannelID: older, Content: "m1"})
	env.mustID(ada, "/postmessage", MessageRequest{ChannelID: older, Content: "m2"})

	status, body := env.call(http.DefaultClient, "GET", "/channels", nil)
	assertStatus(t, status, http.StatusOK, body)

	var res struct {
		Data []ChannelSummary `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Data) != 2 || res.Data[0].ID != newer || res.Data[1].ID != older {
		t.Fatalf("channels = %+v", res.Data)
	}
	if res.Data[1].MessageCount != 2 || res.Data[0].MessageCount != 0 {
		t.Errorf("message counts = %d, %d", res.Data[0].MessageCount, res.Data[1].MessageCount)
	}
	if res.Data[0].Author == nil || *res.Data[0].Author != "ada" {
		t.Errorf("author = %v", res.Data[0].Author)
	}
	if res.Data[0].Age == "" {
		t.Error("age should be filled in")
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	ada, _ := env.loggedIn("ada")

	channelID := env.mustID(ada, "/createchannel", ChannelRequest{Topic: "Goroutine leaks", Content: "How do I find them?"})
	msg := env.mustID(ada, "/postmessage", MessageRequest{ChannelID: channelID, Content: "Use pprof goroutine profiles"})
	reply := env.mustID(ada, "/postreply", ReplyRequest{MessageID: &msg, Content: "thanks"})
	env.mustID(ada, "/postreply", ReplyRequest{ParentReplyID: &reply, Content: "GOROUTINE dumps help too"})

	status, body := env.call(http.DefaultClient, "GET", "/search?q=goroutine", nil)
	assertStatus(t, status, http.StatusOK, body)

	var res struct {
		Results SearchResults `json:"results"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Results.Channels) != 1 || res.Results.Channels[0].Topic != "Goroutine leaks" {
		t.Errorf("channels = %+v", res.Results.Channels)
	}
	if len(res.Results.Messages) != 1 || *res.Results.Messages[0].ChannelID != channelID {
		t.Errorf("messages = %+v", res.Results.Messages)
	}
	if len(res.Results.Replies) != 1 || res.Results.Replies[0].ChannelID == nil || *res.Results.Replies[0].ChannelID != channelID {
		t.Errorf("replies = %+v", res.Results.Replies)
	}

	status, body = env.call(http.DefaultClient, "GET", "/search?q=%20", nil)
	assertStatus(t, status, http.StatusBadRequest, body)
}

func TestAdminDeletes(t *testing.T) {
	env := newTestEnv(t)
	ada, _ := env.loggedIn("ada")
	bob, bobID := env.loggedIn("bob")

	channelID := env.mustID(ada, "/createchannel", ChannelRequest{Topic: "t", Content: "c"})
	first := env.mustID(ada, "/postmessage", MessageRequest{ChannelID: channelID, Content: "first"})
	second := env.mustID(bob, "/postmessage", MessageRequest{ChannelID: channelID, Content: "second"})
	reply := env.mustID(bob, "/postreply", ReplyRequest{MessageID: &first, Content: "r"})
	env.mustID(bob, "/postreply", ReplyRequest{ParentReplyID: &reply, Content: "nested"})
	up := true
	status, body := env.call(bob, "POST", "/rate", RateRequest{ReplyID: &reply, IsUpVote: &up})
	assertStatus(t, status, http.StatusOK, body)

	status, body = env.call(bob, "DELETE", fmt.Sprintf("/deletechannel/%d", channelID), nil)
	assertStatus(t, status, http.StatusForbidden, body)
	assertContains(t, body, "Forbidden. Admins only.")

	status, body = env.call(bob, "GET", "/users", nil)
	assertStatus(t, status, http.StatusForbidden, body)

	if err := promoteUser(env.db, "ada@example.com"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	status, body = env.call(ada, "GET", "/users", nil)
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, "bob@example.com")

	status, body = env.call(ada, "DELETE", fmt.Sprintf("/deletemessage/%d", first), nil)
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, "Message deleted successfully.")

	var replies, ratings int64
	env.db.Model(&Reply{}).Count(&replies)
	env.db.Model(&Rating{}).Count(&ratings)
	if replies != 0 || ratings != 0 {
		t.Errorf("after message delete: %d replies, %d ratings remain", replies, ratings)
	}

	res := env.channel(channelID)
	if len(res.Data.Messages) != 1 || res.Data.Messages[0].ID != second {
		t.Errorf("messages after delete = %+v", res.Data.Messages)
	}

	status, body = env.call(ada, "DELETE", fmt.Sprintf("/deleteuser/%d", bobID), nil)
	assertStatus(t, status, http.StatusOK, body)

	status, body = env.call(bob, "GET", "/me", nil)
	assertStatus(t, status, http.StatusUnauthorized, body)

	res = env.channel(channelID)
	if res.Data.Messages[0].Author != nil {
		t.Errorf("deleted user's message should have no author, got %q", *res.Data.Messages[0].Author)
	}

	status, body = env.call(ada, "DELETE", fmt.Sprintf("/deletechannel/%d", channelID), nil)
	assertStatus(t, status, http.StatusOK, body)

	status, body = env.call(ada, "DELETE", fmt.Sprintf("/deletechannel/%d", channelID), nil)
	assertStatus(t, status, http.StatusNotFound, body)
	assertContains(t, body, "Channel not found.")

	status, body = env.call(http.DefaultClient, "GET", fmt.Sprintf("/channel/%d", channelID), nil)
	assertStatus(t, status, http.StatusNotFound, body)

	var messages int64
	env.db.Model(&Message{}).Count(&messages)
	if messages != 0 {
		t.Errorf("%d messages remain after channel delete", messages)
	}
}

// throttledServer serves the API with a limiter that allows burst attempts
// per client and then refuses for a long time.
func throttledServer(t *testing.T, env *testEnv, burst int, trustedProxies []string) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	api := NewAPI(env.db, newSessionStore(defaultConfig()), InitMetrics(reg), newAuthLimiter(rate.Limit(0.001), burst, trustedProxies))
	srv := httptest.NewServer(newRouter(api, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	t.Cleanup(srv.Close)
	return srv
}

func loginAttempt(t *testing.T, srv *httptest.Server, forwardedFor string) int {
	t.Helper()
	req, err := http.NewRequest("POST", srv.URL+"/login", strings.NewReader(`{"email":"x@example.com","password":"p"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestAuthThrottle(t *testing.T) {
	env := newTestEnv(t)
	srv := throttledServer(t, env, 2, nil)

	want := []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}
	for i := range want {
		if got := loginAttempt(t, srv, ""); got != want[i] {
			t.Errorf("attempt %d: status %d, want %d", i, got, want[i])
		}
	}
}

func TestAuthThrottleIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t)
	srv := throttledServer(t, env, 1, nil)

	passed := 0
	for i := 0; i < 20; i++ {
		if loginAttempt(t, srv, fmt.Sprintf("10.0.0.%d", i)) != http.StatusTooManyRequests {
			passed++
		}
	}
	if passed != 1 {
		t.Errorf("%d of 20 attempts with rotating X-Forwarded-For got through, want 1", passed)
	}
}

func TestAuthThrottleTrustedProxy(t *testing.T) {
	env := newTestEnv(t)
	srv := throttledServer(t, env, 1, []string{"127.0.0.1"})

	if got := loginAttempt(t, srv, "203.0.113.5"); got != http.StatusBadRequest {
		t.Errorf("first client: status %d", got)
	}
	if got := loginAttempt(t, srv, "203.0.113.6"); got != http.StatusBadRequest {
		t.Errorf("second client: status %d", got)
	}
	// a client cannot escape by prepending its own hop
	if got := loginAttempt(t, srv, "198.51.100.1, 203.0.113.5"); got != http.StatusTooManyRequests {
		t.Errorf("repeat client: status %d, want %d", got, http.StatusTooManyRequests)
	}
}

func TestAuthLimiterEvictsIdleClients(t *testing.T) {
	l := newAuthLimiter(rate.Limit(0.001), 1, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	now = now.Add(limiterIdle + time.Second)
	if !l.allow("10.0.0.3") {
		t.Error("fresh client refused")
	}
	if len(l.limiters) != 1 {
		t.Errorf("limiters = %d, want idle clients evicted", len(l.limiters))
	}
}

func TestMetricsAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	ada, _ := env.loggedIn("ada")
	env.mustID(ada, "/createchannel", ChannelRequest{Topic: "t", Content: "c"})

	resp, err := http.Get(env.srv.URL + "/channels")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	status, body := env.call(http.DefaultClient, "GET", "/metrics", nil)
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, `content_created{kind="channel"} 1`)
	assertContains(t, body, `successful_request{path="channels"} 1`)

	env.call(http.DefaultClient, "GET", "/channel/424242", nil)
	env.call(http.DefaultClient, "GET", "/channel/424243", nil)
	status, body = env.call(http.DefaultClient, "GET", "/metrics", nil)
	assertStatus(t, status, http.StatusOK, body)
	assertContains(t, body, `unsuccessful_request{path="channel"} 2`)
	if strings.Contains(string(body), "424242") {
		t.Errorf("request ids leaked into metric labels: %s", body)
	}
}
