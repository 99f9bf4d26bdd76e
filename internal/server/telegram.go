package server

import (
	"errors"
	"net/http"

	"github.com/bryan-buckman/homedash/internal/database"
	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/bryan-buckman/homedash/internal/telegram"
)

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	d := s.document(r)
	if d.err != nil {
		s.logError(r, "read config for telegram", d.err)
		writeError(w, http.StatusInternalServerError, "TG Error: "+d.err.Error())
		return
	}

	chats, err := s.unread.Get(r.Context(), database.SafeName(dashboardID(r)), d.cfg.Settings.TelegramSession)
	var initErr *telegram.SessionInitError
	switch {
	case err == nil:
		if chats == nil {
			chats = []model.UnreadChat{}
		}
		writeJSON(w, http.StatusOK, chats)
	case errors.Is(err, telegram.ErrNotConfigured):
		writeJSON(w, http.StatusOK, map[string]bool{"notConfigured": true})
	case errors.As(err, &initErr):
		s.logError(r, "telegram session init", err)
		writeError(w, http.StatusInternalServerError, "Client init failed")
	case errors.Is(err, telegram.ErrSessionExpired):
		s.logger.Warn("telegram session expired", "dashboard", database.SafeName(dashboardID(r)))
		writeError(w, http.StatusUnauthorized, "Session expired")
	default:
		s.logError(r, "telegram unread", err)
		writeError(w, http.StatusInternalServerError, "TG Error: "+err.Error())
	}
}
