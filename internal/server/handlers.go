package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/session"
	"github.com/aki/wamux/internal/credstore"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service":        "wamux",
		"status":         "ok",
		"activeSessions": s.svc.ActiveSessions(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": s.svc.ActiveSessions(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	res, err := s.svc.Init(r.Context(), req.Key)
	if err != nil {
		s.writeInitError(w, req.Key, err)
		return
	}

	if res.AlreadyConnected {
		respondJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"alreadyConnected": true,
			"identity":         res.Identity,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"pairingArtifact": res.PairingArtifact,
	})
}

func (s *Server) writeInitError(w http.ResponseWriter, key string, err error) {
	var capErr session.ErrCapacityExceeded
	switch {
	case errors.Is(err, credstore.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid key")
	case errors.As(err, &capErr):
		writeError(w, http.StatusServiceUnavailable, capErr.Error())
	default:
		s.log.Error("init failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to initialize session")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status(r.PathValue("key"))
	if !st.Known {
		respondJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}

	body := map[string]any{
		"connected": st.Connected,
		"state":     st.State,
	}
	if st.Identity != "" {
		body["identity"] = st.Identity
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key     string `json:"key"`
		To      string `json:"to"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Key == "" || req.To == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "key, to and content are required")
		return
	}

	id, err := s.svc.Send(r.Context(), req.Key, req.To, req.Content)
	if err != nil {
		var notFound session.ErrSessionNotFound
		var notConn session.ErrNotConnected
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, notFound.Error())
		case errors.As(err, &notConn):
			writeError(w, http.StatusBadRequest, notConn.Error())
		default:
			s.log.Error("send failed", "key", req.Key, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": id})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	chats, err := s.svc.Chats(r.Context(), key)
	if err != nil {
		s.writeFetchError(w, key, err)
		return
	}
	if chats == nil {
		chats = []automation.Chat{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := s.svc.Messages(r.Context(), key, r.PathValue("chatID"), limit)
	if err != nil {
		s.writeFetchError(w, key, err)
		return
	}
	if msgs == nil {
		msgs = []automation.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// writeFetchError maps history/chat listing failures: sessions that are
// unknown or not connected both surface as 404.
func (s *Server) writeFetchError(w http.ResponseWriter, key string, err error) {
	var notFound session.ErrSessionNotFound
	var notConn session.ErrNotConnected
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &notConn):
		writeError(w, http.StatusNotFound, notConn.Error())
	default:
		s.log.Error("fetch failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch")
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	// Idempotent by contract: unknown keys succeed.
	s.svc.Disconnect(r.Context(), r.PathValue("key"))
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sessionInfo struct {
	Key             string    `json:"key"`
	State           string    `json:"state"`
	Identity        string    `json:"identity,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	PairingDeadline time.Time `json:"pairingDeadline,omitzero"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.svc.Sessions()
	infos := make([]sessionInfo, 0, len(snaps))
	for _, snap := range snaps {
		infos = append(infos, sessionInfo{
			Key:             snap.Key,
			State:           snap.State.String(),
			Identity:        snap.ConnectedIdentity,
			CreatedAt:       snap.CreatedAt,
			PairingDeadline: snap.PairingDeadline,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}
