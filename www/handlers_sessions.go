package www

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"simplemes/sessions"
	"simplemes/store"
)

type loginBody struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (h *Handlers) loginRequest(r *http.Request) (sessions.LoginRequest, error) {
	var body loginBody
	if err := decode(r, &body); err != nil {
		return sessions.LoginRequest{}, err
	}
	return sessions.LoginRequest{
		WorkstationID: chi.URLParam(r, "wsID"),
		UserID:        body.UserID,
		Username:      body.Username,
		ClientIP:      clientIP(r),
	}, nil
}

func (h *Handlers) apiLogin(w http.ResponseWriter, r *http.Request) {
	req, err := h.loginRequest(r)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	res, err := h.engine.Sessions().Login(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	h.sessions.set(w, r, keySession, res.Session.SessionID)
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handlers) apiTakeover(w http.ResponseWriter, r *http.Request) {
	req, err := h.loginRequest(r)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	res, err := h.engine.Sessions().Takeover(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	h.sessions.set(w, r, keySession, res.Session.SessionID)
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handlers) apiActiveSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Sessions().ActiveSession(r.Context(), chi.URLParam(r, "wsID"))
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, map[string]any{
		"session": s,
		"stale":   h.engine.Sessions().IsStale(s),
	})
}

// apiSessionHistory lists the workstation's recent sessions, newest first.
func (h *Handlers) apiSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	list, err := h.engine.DB().ListSessions(r.Context(), chi.URLParam(r, "wsID"), limit)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if list == nil {
		list = []store.WorkstationSession{}
	}
	writeJSON(w, list)
}

func (h *Handlers) apiHeartbeat(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Sessions().Heartbeat(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, s)
}

func (h *Handlers) apiLogout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.engine.Sessions().Logout(r.Context(), id); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if cur, ok := h.sessions.value(r, keySession); ok && cur == id {
		h.sessions.unset(w, r, keySession)
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiWorkState(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.WorkStates().Get(r.Context(), chi.URLParam(r, "wsID"))
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, st)
}

func (h *Handlers) apiClearWorkState(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.WorkStates().Clear(r.Context(), chi.URLParam(r, "wsID")); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiListWorkstations(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.DB().ListWorkstations(r.Context())
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if list == nil {
		list = []store.Workstation{}
	}
	writeJSON(w, list)
}

func (h *Handlers) apiWorkstationDevices(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "wsID")
	if _, err := h.engine.DB().GetWorkstation(r.Context(), ws); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	ids, err := h.engine.DB().ListWorkstationDeviceIDs(r.Context(), ws)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, map[string]any{"workstation_id": ws, "devices": ids})
}
