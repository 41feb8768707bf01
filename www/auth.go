package www

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const sessionName = "simplemes_session"

const (
	keyAdmin   = "admin"
	keySession = "station_session"
)

// sessionStore holds two cookie values: the admin username and the
// workstation session id of the last login from this browser.
type sessionStore struct {
	store *sessions.CookieStore
}

func newSessionStore(secret string) *sessionStore {
	var key []byte
	if secret != "" {
		key, _ = base64.StdEncoding.DecodeString(secret)
	}
	if len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60, // one shift plus overtime
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{store: cs}
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

func (s *sessionStore) value(r *http.Request, key string) (string, bool) {
	v, exists := s.get(r).Values[key]
	if !exists {
		return "", false
	}
	str, ok := v.(string)
	return str, ok && str != ""
}

func (s *sessionStore) set(w http.ResponseWriter, r *http.Request, key, val string) {
	sess := s.get(r)
	sess.Values[key] = val
	sess.Save(r, w)
}

func (s *sessionStore) unset(w http.ResponseWriter, r *http.Request, key string) {
	sess := s.get(r)
	delete(sess.Values, key)
	sess.Save(r, w)
}

func (s *sessionStore) getAdmin(r *http.Request) (string, bool) { return s.value(r, keyAdmin) }

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
