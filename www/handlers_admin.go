package www

import (
	"net/http"

	"go.uber.org/zap"

	"simplemes/config"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// apiAdminLogin checks credentials. The first login on an empty admin table
// creates that user.
func (h *Handlers) apiAdminLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(r, &c); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if c.Username == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	db := h.engine.DB()
	ctx := r.Context()

	exists, err := db.AdminUserExists(ctx)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if !exists {
		hash, err := hashPassword(c.Password)
		if err != nil {
			h.writeErr(w, r, err, nil)
			return
		}
		if _, err := db.CreateAdminUser(ctx, c.Username, hash); err != nil {
			h.writeErr(w, r, err, nil)
			return
		}
		h.log.Info("admin user created", zap.String("username", c.Username))
	} else {
		user, err := db.GetAdminUser(ctx, c.Username)
		if err != nil || !checkPassword(c.Password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
	}

	h.sessions.set(w, r, keyAdmin, c.Username)
	writeJSON(w, map[string]string{"status": "ok", "username": c.Username})
}

func (h *Handlers) apiAdminLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.unset(w, r, keyAdmin)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	username, _ := h.sessions.getAdmin(r)
	hash, err := hashPassword(body.Password)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if err := h.engine.DB().UpdateAdminPassword(r.Context(), username, hash); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiSweepSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Sessions().Sweep(r.Context())
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, map[string]int{"closed": n})
}

func (h *Handlers) apiRegisterWorkstation(w http.ResponseWriter, r *http.Request) {
	var ws config.WorkstationConfig
	if err := decode(r, &ws); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if err := h.engine.RegisterWorkstation(r.Context(), ws); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	saved, err := h.engine.DB().GetWorkstation(r.Context(), ws.ID)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSONStatus(w, http.StatusCreated, saved)
}
