package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const INTERNAL_ERROR = "Internal server error. Please try again later."

var errInvalidID = errors.New("invalid id")

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("Failed to encode response")
	}
}

// respond writes the {success, message} envelope every endpoint shares.
func respond(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: status < 300, Message: message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// pathID reads the {id} route variable.
func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

// clientIP returns the address the auth throttle keys on. X-Forwarded-For
// is only read when the peer is a trusted proxy, and then the rightmost hop
// that is not itself a trusted proxy wins.
func clientIP(r *http.Request, trusted map[string]struct{}) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if _, ok := trusted[host]; !ok {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, ok := trusted[hop]; !ok {
			return hop
		}
	}
	return host
}

// routeLabel names the matched route for metrics, keeping ids out of labels.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	return "unknown"
}

// requestLogger returns an entry carrying the fields every handler logs.
func requestLogger(r *http.Request) *logrus.Entry {
	fields := logrus.Fields{
		"method":    r.Method,
		"path":      r.URL.Path,
		"remote_ip": r.RemoteAddr,
	}
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		fields["request_id"] = id
	}
	return logger.WithFields(fields)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
