package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/bryan-buckman/homedash/internal/database"
	"github.com/bryan-buckman/homedash/internal/model"
)

// Credentials that apply when a dashboard has no stored document or leaves
// fields empty.
const (
	defaultUsername        = "admin"
	defaultPassword        = "password"
	defaultMasterPassword  = "admin"
	unsavedDashboardSecret = "123"
)

const authRealm = `Basic realm="Dashboard"`

type documentKey struct{}

// document is the dashboard config as read once for the current request.
// cfg is nil when err is set.
type document struct {
	cfg *model.DashboardConfig
	err error
}

func (d *document) missing() bool {
	return errors.Is(d.err, database.ErrNotFound)
}

// withDocument reads the dashboard config unless an earlier middleware
// already did for this request.
func (s *Server) withDocument(r *http.Request) (*http.Request, *document) {
	if d, ok := r.Context().Value(documentKey{}).(*document); ok {
		return r, d
	}
	cfg, err := database.LoadDashboard(s.store, dashboardID(r))
	d := &document{cfg: cfg, err: err}
	return r.WithContext(context.WithValue(r.Context(), documentKey{}, d)), d
}

func (s *Server) document(r *http.Request) *document {
	_, d := s.withDocument(r)
	return d
}

// requireDocument answers 404 for dashboards that were never saved.
func (s *Server) requireDocument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, d := s.withDocument(r)
		if d.missing() {
			writeError(w, http.StatusNotFound, "Config file not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth checks HTTP basic credentials against the dashboard's stored
// document, read fresh for every request. Reads of the default dashboard
// are public.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, d := s.withDocument(r)
		name := database.SafeName(dashboardID(r))

		if name == model.DefaultDashboard && r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		if d.err != nil && !d.missing() {
			if !errors.Is(d.err, database.ErrMalformed) {
				s.logError(r, "auth: load config", d.err)
				writeError(w, http.StatusInternalServerError, "Error")
				return
			}
			s.logger.Warn("auth: unreadable config, using default credentials", "dashboard", name, "error", d.err)
		}

		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Auth Required", http.StatusUnauthorized)
			return
		}

		user, pass, _ := r.BasicAuth()
		want := expectedCredentials(name, d)
		if !credentialsMatch(user, pass, want) {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Access Denied", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// expectedCredentials resolves the login for a dashboard. The default
// dashboard is guarded by its master password; the others by their own
// credentials.
func expectedCredentials(name string, d *document) model.Credentials {
	var settings model.Settings
	switch {
	case d.cfg != nil:
		settings = d.cfg.Settings
	case d.missing():
		settings.Auth = &model.Credentials{Username: defaultUsername, Password: unsavedDashboardSecret}
	}

	if name == model.DefaultDashboard {
		return model.Credentials{
			Username: defaultUsername,
			Password: cmpOr(settings.MasterPassword, defaultMasterPassword),
		}
	}

	want := model.Credentials{Username: defaultUsername, Password: defaultPassword}
	if settings.Auth != nil {
		want.Username = cmpOr(settings.Auth.Username, defaultUsername)
		want.Password = cmpOr(settings.Auth.Password, defaultPassword)
	}
	return want
}

func credentialsMatch(user, pass string, want model.Credentials) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(want.Username))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(want.Password))
	return userOK&passOK == 1
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
