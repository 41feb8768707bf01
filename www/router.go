// Package www serves the JSON API, the live event stream and the metrics
// endpoint.
package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"simplemes/engine"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
	log      *zap.Logger
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	cfg := eng.AppConfig()
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(cfg.Web.SessionSecret),
		eventHub: NewEventHub(),
		log:      eng.Logger().Named("www"),
	}

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(proxiedRealIP(parseTrustedProxies(cfg.Web.TrustedProxies, h.log)))
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	// SSE (no auth, shop floor)
	r.Get("/events", h.eventHub.HandleSSE)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Workstation sessions
		r.Get("/workstations", h.apiListWorkstations)
		r.Post("/workstations/{wsID}/login", h.apiLogin)
		r.Post("/workstations/{wsID}/takeover", h.apiTakeover)
		r.Get("/workstations/{wsID}/session", h.apiActiveSession)
		r.Get("/workstations/{wsID}/sessions", h.apiSessionHistory)
		r.Get("/workstations/{wsID}/work-state", h.apiWorkState)
		r.Get("/workstations/{wsID}/devices", h.apiWorkstationDevices)
		r.Post("/sessions/{sessionID}/heartbeat", h.apiHeartbeat)
		r.Post("/sessions/{sessionID}/logout", h.apiLogout)

		// Orders
		r.Get("/orders", h.apiListOrders)
		r.Post("/orders", h.apiCreateOrder)
		r.Get("/orders/{id}", h.apiGetOrder)
		r.Put("/orders/{id}", h.apiUpdateOrder)
		r.Get("/orders/{id}/status", h.apiOrderStatus)
		r.Get("/orders/{id}/history", h.apiOrderHistory)
		r.Get("/orders/{id}/action-logs", h.apiOrderActionLogs)
		r.Post("/orders/{id}/start", h.apiStartOrder)
		r.Post("/orders/{id}/pause", h.apiPauseOrder)
		r.Post("/orders/{id}/resume", h.apiResumeOrder)
		r.Post("/orders/{id}/cancel", h.apiCancelOrder)
		r.Post("/orders/{id}/execute", h.apiExecuteStep)
		r.Post("/orders/{id}/production", h.apiReportProduction)

		// Devices
		r.Get("/devices", h.apiListDevices)
		r.Post("/devices/{id}/connect", h.apiDeviceConnect)
		r.Post("/devices/{id}/read", h.apiDeviceRead)
		r.Post("/devices/{id}/write", h.apiDeviceWrite)
		r.Get("/devices/{id}/status", h.apiDeviceStatus)

		// Admin
		r.Post("/admin/login", h.apiAdminLogin)
		r.Post("/admin/logout", h.apiAdminLogout)
		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)
			r.Delete("/workstations/{wsID}/work-state", h.apiClearWorkState)
			r.Post("/admin/sessions/sweep", h.apiSweepSessions)
			r.Post("/admin/password", h.apiChangePassword)
			r.Post("/devices", h.apiCreateDevice)
			r.Post("/admin/workstations", h.apiRegisterWorkstation)
		})
	})

	return r, func() {
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.sessions.getAdmin(r); !ok {
			writeError(w, http.StatusUnauthorized, "admin login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events" {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
