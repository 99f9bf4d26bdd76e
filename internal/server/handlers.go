package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/bryan-buckman/homedash/internal/database"
	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/bryan-buckman/homedash/internal/opml"
)

// --- Dashboards ---

func (s *Server) handleDashboards(w http.ResponseWriter, r *http.Request) {
	names := []string{model.DefaultDashboard}
	stored, err := s.store.ListDashboards()
	if err != nil {
		s.logError(r, "list dashboards", err)
		writeJSON(w, http.StatusOK, names)
		return
	}
	for _, name := range stored {
		if name != model.DefaultDashboard {
			names = append(names, name)
		}
	}
	writeJSON(w, http.StatusOK, names)
}

// --- Config ---

// emptyDefaultConfig stands in for the default dashboard before it is
// first saved.
func emptyDefaultConfig() *model.DashboardConfig {
	return &model.DashboardConfig{Settings: model.Settings{Title: "DEFAULT"}}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	d := s.document(r)
	switch {
	case d.missing() && database.SafeName(dashboardID(r)) == model.DefaultDashboard:
		writeJSON(w, http.StatusOK, map[string]any{
			"settings":   map[string]string{"title": "DEFAULT"},
			"categories": []model.Category{},
			"events":     []model.ManualEvent{},
		})
	case d.missing():
		writeError(w, http.StatusNotFound, "Not found")
	case d.err != nil:
		s.logError(r, "read config", d.err)
		writeError(w, http.StatusInternalServerError, "Error")
	default:
		writeJSON(w, http.StatusOK, d.cfg.Redacted())
	}
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.DashboardConfig
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	// An unreadable previous document has no secrets left to keep.
	cfg.PreserveSecrets(s.document(r).cfg)

	if err := s.commitConfig(r, &cfg); err != nil {
		s.logError(r, "save config", err)
		writeError(w, http.StatusInternalServerError, "Failed to save")
		return
	}
	writeSuccess(w)
}

// commitConfig is the single write path for dashboard configs. Once the
// document is stored the dashboard's unread cache and pooled session are
// dropped.
func (s *Server) commitConfig(r *http.Request, cfg *model.DashboardConfig) error {
	id := dashboardID(r)
	if err := database.SaveDashboard(s.store, id, cfg); err != nil {
		return err
	}
	s.unread.Invalidate(database.SafeName(id))
	s.logger.Info("config saved", "dashboard", database.SafeName(id))
	return nil
}

// --- Notes ---

func (s *Server) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Load(database.KindNotes, dashboardID(r))
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	if err != nil {
		s.logError(r, "read notes", err)
		writeError(w, http.StatusInternalServerError, "Error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := s.store.Save(database.KindNotes, dashboardID(r), pretty.Bytes()); err != nil {
		s.logError(r, "save notes", err)
		writeError(w, http.StatusInternalServerError, "Failed to save")
		return
	}
	writeSuccess(w)
}

// --- Events ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	d := s.document(r)
	if d.err != nil {
		if !d.missing() {
			s.logError(r, "read config for events", d.err)
		}
		writeJSON(w, http.StatusOK, []model.Event{})
		return
	}
	events := s.calendar.Events(r.Context(), d.cfg)
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- OPML ---

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	d := s.document(r)
	cfg := d.cfg
	switch {
	case d.missing() && database.SafeName(dashboardID(r)) == model.DefaultDashboard:
		cfg = emptyDefaultConfig()
	case d.missing():
		writeError(w, http.StatusNotFound, "Not found")
		return
	case d.err != nil:
		s.logError(r, "read config for export", d.err)
		writeError(w, http.StatusInternalServerError, "Error")
		return
	}

	data, err := opml.Export(cfg, s.clock.Now())
	if err != nil {
		s.logError(r, "export opml", err)
		writeError(w, http.StatusInternalServerError, "Failed to export")
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.opml", database.SafeName(dashboardID(r))))
	w.Write(data)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	var src io.Reader = io.LimitReader(r.Body, maxBodySize)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		file, _, err := r.FormFile("opml")
		if err != nil {
			writeError(w, http.StatusBadRequest, "No file provided")
			return
		}
		defer file.Close()
		src = file
	}

	doc, err := opml.Parse(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse OPML: %v", err))
		return
	}

	d := s.document(r)
	cfg := d.cfg
	switch {
	case d.missing():
		cfg = &model.DashboardConfig{}
		if database.SafeName(dashboardID(r)) == model.DefaultDashboard {
			cfg = emptyDefaultConfig()
		}
	case d.err != nil:
		s.logError(r, "read config for import", d.err)
		writeError(w, http.StatusInternalServerError, "Error")
		return
	}
	if cfg.Settings.Title == "" {
		cfg.Settings.Title = doc.Title
	}

	links, calendars := doc.ApplyTo(cfg)
	if err := s.commitConfig(r, cfg); err != nil {
		s.logError(r, "save imported config", err)
		writeError(w, http.StatusInternalServerError, "Failed to save")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"links":     links,
		"calendars": calendars,
	})
}

// --- Whoami ---

type whoami struct {
	IP      string `json:"ip"`
	IsLocal bool   `json:"isLocal"`
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r.RemoteAddr)
	writeJSON(w, http.StatusOK, whoami{IP: ip, IsLocal: isLocalAddr(ip)})
}

// clientIP normalizes RemoteAddr: the port is dropped, IPv4-mapped IPv6
// addresses are unwrapped and the IPv6 loopback reads as 127.0.0.1.
func clientIP(remoteAddr string) string {
	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	ip = strings.TrimPrefix(ip, "::ffff:")
	if ip == "::1" {
		ip = "127.0.0.1"
	}
	return ip
}

// isLocalAddr is advisory only; it is never used for access control.
func isLocalAddr(ip string) bool {
	return ip == "127.0.0.1" || strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "10.")
}
