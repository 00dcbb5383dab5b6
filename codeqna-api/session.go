package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const sessionName = "codeqna"

// Principal is the authenticated caller of a request. It is resolved once by
// middleware and handed to handlers through the request context.
type Principal struct {
	UserID uint
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type principalKey struct{}

type requestIDKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func newSessionStore(cfg *Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return store
}

// startSession records the user in the session cookie.
func (api *API) startSession(w http.ResponseWriter, r *http.Request, user *User) error {
	sess, _ := api.store.Get(r, sessionName)
	sess.Values["user_id"] = user.ID
	return sess.Save(r, w)
}

func (api *API) endSession(w http.ResponseWriter, r *http.Request) error {
	sess, _ := api.store.Get(r, sessionName)
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// sessionPrincipal loads the caller from the session cookie. The role is read
// from the database so promotions and deletions take effect immediately.
func (api *API) sessionPrincipal(r *http.Request) (Principal, bool, error) {
	sess, err := api.store.Get(r, sessionName)
	if err != nil {
		return Principal{}, false, nil
	}
	userID, ok := sess.Values["user_id"].(uint)
	if !ok || userID == 0 {
		return Principal{}, false, nil
	}

	var user User
	err = api.db.Select("id", "role").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, false, nil
	}
	if err != nil {
		return Principal{}, false, err
	}
	return Principal{UserID: user.ID, Role: user.Role}, true, nil
}

func (api *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := api.sessionPrincipal(r)
		if err != nil {
			requestLogger(r).WithError(err).Error("Failed to resolve session")
			respond(w, http.StatusInternalServerError, INTERNAL_ERROR)
			return
		}
		if !ok {
			api.metrics.BadRequests.WithLabelValues(routeLabel(r)).Inc()
			respond(w, http.StatusUnauthorized, "Unauthorized. Please log in.")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

func (api *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := api.sessionPrincipal(r)
		if err != nil {
			requestLogger(r).WithError(err).Error("Failed to resolve session")
			respond(w, http.StatusInternalServerError, INTERNAL_ERROR)
			return
		}
		if !ok || !p.IsAdmin() {
			requestLogger(r).WithField("user_id", p.UserID).Warn("Admin route refused")
			api.metrics.BadRequests.WithLabelValues(routeLabel(r)).Inc()
			respond(w, http.StatusForbidden, "Forbidden. Admins only.")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

// limiterIdle is how long a client address may stay quiet before its
// limiter is dropped.
const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// authLimiter throttles credential endpoints per client address.
type authLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	trusted   map[string]struct{}
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func newAuthLimiter(limit rate.Limit, burst int, trustedProxies []string) *authLimiter {
	trusted := make(map[string]struct{}, len(trustedProxies))
	for _, addr := range trustedProxies {
		trusted[addr] = struct{}{}
	}
	return &authLimiter{
		limit:    limit,
		burst:    burst,
		trusted:  trusted,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

func (l *authLimiter) allow(addr string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterIdle {
		for key, e := range l.limiters {
			if now.Sub(e.seen) >= limiterIdle {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.limiters[addr]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

func (api *API) throttle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r, api.limiter.trusted)
		if !api.limiter.allow(addr) {
			requestLogger(r).WithField("client", addr).Warn("Too many authentication attempts")
			api.metrics.BadRequests.WithLabelValues(routeLabel(r)).Inc()
			respond(w, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
			return
		}
		next(w, r)
	}
}

// requestID tags every request with an id that is echoed back and logged.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
		defer afterRequestLogging(start, r)

		next.ServeHTTP(w, r)
	})
}
