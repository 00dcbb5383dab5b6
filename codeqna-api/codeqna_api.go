package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"codeqna/forum"
)

type API struct {
	db      *gorm.DB
	store   sessions.Store
	metrics *Metrics
	limiter *authLimiter
}

func NewAPI(db *gorm.DB, store sessions.Store, metrics *Metrics, limiter *authLimiter) *API {
	return &API{db: db, store: store, metrics: metrics, limiter: limiter}
}

// Routes registers every endpoint on r. Route names double as metric labels.
func (api *API) Routes(r *mux.Router) {
	r.HandleFunc("/register", api.throttle(api.RegisterHandler)).Methods("POST").Name("register")
	r.HandleFunc("/login", api.throttle(api.LoginHandler)).Methods("POST").Name("login")
	r.HandleFunc("/logout", api.LogoutHandler).Methods("POST").Name("logout")
	r.HandleFunc("/me", api.requireAuth(api.MeHandler)).Methods("GET").Name("me")

	r.HandleFunc("/createchannel", api.requireAuth(api.CreateChannelHandler)).Methods("POST").Name("createchannel")
	r.HandleFunc("/postmessage", api.requireAuth(api.PostMessageHandler)).Methods("POST").Name("postmessage")
	r.HandleFunc("/postreply", api.requireAuth(api.PostReplyHandler)).Methods("POST").Name("postreply")
	r.HandleFunc("/rate", api.requireAuth(api.RateHandler)).Methods("POST").Name("rate")

	r.HandleFunc("/channels", api.GETChannelsHandler).Methods("GET").Name("channels")
	r.HandleFunc("/channel/{id}", api.GETChannelHandler).Methods("GET").Name("channel")
	r.HandleFunc("/search", api.SearchHandler).Methods("GET").Name("search")

	r.HandleFunc("/users", api.requireAdmin(api.GETUsersHandler)).Methods("GET").Name("users")
	r.HandleFunc("/deleteuser/{id}", api.requireAdmin(api.deleteHandler("user", &User{}, deleteUser))).Methods("DELETE").Name("deleteuser")
	r.HandleFunc("/deletechannel/{id}", api.requireAdmin(api.deleteHandler("channel", &Channel{}, deleteChannel))).Methods("DELETE").Name("deletechannel")
	r.HandleFunc("/deletemessage/{id}", api.requireAdmin(api.deleteHandler("message", &Message{}, deleteMessage))).Methods("DELETE").Name("deletemessage")
	r.HandleFunc("/deletereply/{id}", api.requireAdmin(api.deleteHandler("reply", &Reply{}, deleteReply))).Methods("DELETE").Name("deletereply")
}

func (api *API) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	api.metrics.BadRequests.WithLabelValues(routeLabel(r)).Inc()
	respond(w, status, message)
}

func (api *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	requestLogger(r).WithError(err).Error(msg)
	api.fail(w, r, http.StatusInternalServerError, INTERNAL_ERROR)
}

func (api *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	log.Info("RegisterHandler called")

	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil || blank(req.Name) || blank(req.Email) || req.Password == "" {
		log.Warn("Invalid registration request")
		api.fail(w, r, http.StatusBadRequest, "Error: missing data.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !strings.Contains(req.Email, "@") {
		api.fail(w, r, http.StatusBadRequest, "You have to enter a valid email address.")
		return
	}

	var taken int64
	if err := api.db.Model(&User{}).Where("email = ?", req.Email).Count(&taken).Error; err != nil {
		api.internalError(w, r, err, "Failed to check email")
		return
	}
	if taken > 0 {
		log.WithField("email", req.Email).Warn("Email already registered")
		api.fail(w, r, http.StatusBadRequest, "Email already registered.")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		api.internalError(w, r, err, "Failed to hash password")
		return
	}

	user := User{Name: strings.TrimSpace(req.Name), Email: req.Email, PasswordHash: hash, Role: RoleUser}
	if err := api.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			api.fail(w, r, http.StatusBadRequest, "Email already registered.")
			return
		}
		api.internalError(w, r, err, "Error inserting user")
		return
	}

	log.WithField("user_id", user.ID).Info("User registered successfully")
	api.metrics.SuccessfulRequests.WithLabelValues("register").Inc()
	writeJSON(w, http.StatusOK, Response{Success: true, ID: user.ID})
}

func (api *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	log.Info("LoginHandler called")

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil || blank(req.Email) || req.Password == "" {
		api.fail(w, r, http.StatusBadRequest, "Error: missing data.")
		return
	}

	var user User
	err := api.db.Where("email = ?", strings.TrimSpace(req.Email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.WithField("email", req.Email).Warn("Unknown email on login")
		api.fail(w, r, http.StatusBadRequest, "Wrong email or password. Please try again or register for an account.")
		return
	} else if err != nil {
		api.internalError(w, r, err, "Database error during login")
		return
	}

	if !CheckPasswordHash(req.Password, user.PasswordHash) {
		log.WithField("user_id", user.ID).Warn("Invalid password attempt")
		api.fail(w, r, http.StatusBadRequest, "Wrong email or password. Please try again.")
		return
	}

	if err := api.startSession(w, r, &user); err != nil {
		api.internalError(w, r, err, "Failed to save session")
		return
	}

	log.WithField("user_id", user.ID).Info("User logged in successfully")
	api.metrics.SuccessfulRequests.WithLabelValues("login").Inc()
	writeJSON(w, http.StatusOK, Response{Success: true, ID: user.ID, Message: "Login successful."})
}

func (api *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.endSession(w, r); err != nil {
		api.internalError(w, r, err, "Failed to clear session")
		return
	}
	api.metrics.SuccessfulRequests.WithLabelValues("logout").Inc()
	respond(w, http.StatusOK, "Logged out.")
}

func (api *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var user User
	if err := api.db.First(&user, p.UserID).Error; err != nil {
		api.internalError(w, r, err, "Failed to load current user")
		return
	}
	api.metrics.SuccessfulRequests.WithLabelValues("me").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

func (api *API) CreateChannelHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	log := requestLogger(r).WithField("user_id", p.UserID)
	log.Info("CreateChannelHandler called")

	var req ChannelRequest
	if err := decodeJSON(r, &req); err != nil || blank(req.Topic) || blank(req.Content) {
		api.fail(w, r, http.StatusBadRequest, "Error: missing topic or content.")
		return
	}

	channel := Channel{Topic: req.Topic, Content: req.Content, Screenshot: emptyToNil(req.Screenshot), AuthorID: &p.UserID}
	if err := api.db.Create(&channel).Error; err != nil {
		api.internalError(w, r, err, "Failed to insert channel")
		return
	}

	log.WithField("channel_id", channel.ID).Info("Channel created")
	api.metrics.ContentCreated.WithLabelValues("channel").Inc()
	api.metrics.SuccessfulRequests.WithLabelValues("createchannel").Inc()
	writeJSON(w, http.StatusOK, Response{Success: true, ID: channel.ID})
}

func (api *API) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	log := requestLogger(r).WithField("user_id", p.UserID)
	log.Info("PostMessageHandler called")

	var req MessageRequest
	if err := decodeJSON(r, &req); err != nil || req.ChannelID == 0 || blank(req.Content) {
		api.fail(w, r, http.StatusBadRequest, "Error: missing channel ID or content.")
		return
	}

	ok, err := exists(api.db, &Channel{}, req.ChannelID)
	if err != nil {
		api.internalError(w, r, err, "Failed to look up channel")
		return
	}
	if !ok {
		log.WithField("channel_id", req.ChannelID).Warn("Message for unknown channel")
		api.fail(w, r, http.StatusBadRequest, "Invalid channel ID.")
		return
	}

	msg := Message{ChannelID: req.ChannelID, Content: req.Content, Screenshot: emptyToNil(req.Screenshot), AuthorID: &p.UserID}
	if err := api.db.Create(&msg).Error; err != nil {
		api.internalError(w, r, err, "Failed to insert message")
		return
	}

	log.WithField("message_id", msg.ID).Info("Message posted")
	api.metrics.ContentCreated.WithLabelValues("message").Inc()
	api.metrics.SuccessfulRequests.WithLabelValues("postmessage").Inc()
	writeJSON(w, http.StatusOK, Response{Success: true, ID: msg.ID})
}

func (api *API) PostReplyHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	log := requestLogger(r).WithField("user_id", p.UserID)
	log.Info("PostReplyHandler called")

	var req ReplyRequest
	err := decodeJSON(r, &req)
	hasMessage := req.MessageID != nil && *req.MessageID != 0
	hasParent := req.ParentReplyID != nil && *req.ParentReplyID != 0
	if err != nil || hasMessage == hasParent || blank(req.Content) {
		api.fail(w, r, http.StatusBadRequest, "Error: missing a message ID or a parent reply ID, but not both. Missing content.")
		return
	}

	reply := Reply{Content: req.Content, Screenshot: emptyToNil(req.Screenshot), AuthorID: &p.UserID}
	var ok bool
	if hasMessage {
		reply.MessageID = req.MessageID
		ok, err = exists(api.db, &Message{}, *req.MessageID)
	} else {
		reply.ParentReplyID = req.ParentReplyID
		ok, err = exists(api.db, &Reply{}, *req.ParentReplyID)
	}
	if err != nil {
		api.internalError(w, r, err, "Failed to look up reply parent")
		return
	}
	if !ok {
		api.fail(w, r, http.StatusBadRequest, "Invalid message or parent reply ID.")
		return
	}

	if err := api.db.Create(&reply).Error; err != nil {
		api.internalError(w, r, err, "Failed to insert reply")
		return
	}

	log.WithField("reply_id", reply.ID).Info("Reply posted")
	api.metrics.ContentCreated.WithLabelValues("reply").Inc()
	api.metrics.SuccessfulRequests.WithLabelValues("postreply").Inc()
	writeJSON(w, http.StatusOK, Response{Success: true, ID: reply.ID})
}

// rateTarget converts the request's optional ids into a single target.
func rateTarget(req RateRequest) (forum.Target, bool) {
	var (
		target forum.Target
		set    int
	)
	if req.ChannelID != nil {
		target = forum.Target{Kind: forum.KindChannel, ID: int64(*req.ChannelID)}
		set++
	}
	if req.MessageID != nil {
		target = forum.Target{Kind: forum.KindMessage, ID: int64(*req.MessageID)}
		set++
	}
	if req.ReplyID != nil {
		target = forum.Target{Kind: forum.KindReply, ID: int64(*req.ReplyID)}
		set++
	}
	return target, set == 1 && target.ID > 0
}

func (api *API) RateHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	log := requestLogger(r).WithField("user_id", p.UserID)

	var req RateRequest
	err := decodeJSON(r, &req)
	target, ok := rateTarget(req)
	if err != nil || !ok || req.IsUpVote == nil {
		api.fail(w, r, http.StatusBadRequest, "Error: exactly one of channelId, messageId or replyId and isUpVote are required.")
		return
	}

	created, err := upsertRating(api.db, p.UserID, target, *req.IsUpVote)
	if errors.Is(err, errUnknownTarget) {
		log.WithField("target", target.String()).Warn("Rating for unknown target")
		api.fail(w, r, http.StatusBadRequest, "Invalid rating target.")
		return
	}
	if err != nil {
		api.internalError(w, r, err, "Failed to store rating")
		return
	}

	vote := "down"
	if *req.IsUpVote {
		vote = "up"
	}
	log.WithFields(logrus.Fields{"target": target.String(), "vote": vote, "created": created}).Info("Rating stored")
	api.metrics.RatingsCast.WithLabelValues(string(target.Kind), vote).Inc()
	api.metrics.SuccessfulRequests.WithLabelValues("rate").Inc()
	respond(w, http.StatusOK, "Rating saved.")
}

func (api *API) GETChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := listChannels(api.db)
	if err != nil {
		api.internalError(w, r, err, "Failed to fetch channels")
		return
	}
	requestLogger(r).WithField("channel_count", len(channels)).Info("Channels retrieved successfully")
	api.metrics.SuccessfulRequests.WithLabelValues("channels").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": channels})
}

func (api *API) GETChannelHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "Invalid channel ID.")
		return
	}

	thread, err := loadThread(api.db, id)
	if errors.Is(err, forum.ErrNotFound) {
		api.fail(w, r, http.StatusNotFound, "Channel not found.")
		return
	}
	if err != nil {
		api.internalError(w, r, err, "Failed to fetch channel")
		return
	}

	requestLogger(r).WithFields(logrus.Fields{
		"channel_id":    id,
		"message_count": len(thread.Messages),
	}).Info("Channel retrieved successfully")
	api.metrics.SuccessfulRequests.WithLabelValues("channel").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": thread})
}

func (api *API) SearchHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		api.fail(w, r, http.StatusBadRequest, "Error: missing search query.")
		return
	}

	results, err := search(api.db, q)
	if err != nil {
		api.internalError(w, r, err, "Search failed")
		return
	}
	api.metrics.SuccessfulRequests.WithLabelValues("search").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "results": results})
}

func (api *API) GETUsersHandler(w http.ResponseWriter, r *http.Request) {
	users := []User{}
	if err := api.db.Order("id ASC").Find(&users).Error; err != nil {
		api.internalError(w, r, err, "Failed to fetch users")
		return
	}
	api.metrics.SuccessfulRequests.WithLabelValues("users").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": users})
}

// deleteHandler builds the admin DELETE endpoint for one kind of entity.
func (api *API) deleteHandler(kind string, model interface{}, remove func(*gorm.DB, uint) error) http.HandlerFunc {
	title := strings.ToUpper(kind[:1]) + kind[1:]
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			api.fail(w, r, http.StatusBadRequest, "Invalid "+kind+" ID.")
			return
		}

		ok, err := exists(api.db, model, id)
		if err != nil {
			api.internalError(w, r, err, "Failed to look up "+kind)
			return
		}
		if !ok {
			api.fail(w, r, http.StatusNotFound, title+" not found.")
			return
		}

		if err := remove(api.db, id); err != nil {
			api.internalError(w, r, err, "Failed to delete "+kind)
			return
		}

		p, _ := principalFrom(r.Context())
		requestLogger(r).WithFields(logrus.Fields{
			"admin_id":  p.UserID,
			"kind":      kind,
			"target_id": id,
		}).Info(title + " deleted")
		api.metrics.ContentDeleted.WithLabelValues(kind).Inc()
		api.metrics.SuccessfulRequests.WithLabelValues("delete" + kind).Inc()
		respond(w, http.StatusOK, title+" deleted successfully.")
	}
}

func emptyToNil(s *string) *string {
	if s == nil || blank(*s) {
		return nil
	}
	return s
}
