package www

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"simplemes/errs"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Result  any            `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, errorBody{Error: msg})
}

// writeErr maps err through the error taxonomy. result, when non-nil, is
// returned alongside the error.
func (h *Handlers) writeErr(w http.ResponseWriter, r *http.Request, err error, result any) {
	status := errs.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Result: result}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Code = e.Code
		body.Details = e.Details
	}
	if errs.KindOf(err) == "" {
		h.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		body.Error = "internal error"
	}
	writeJSONStatus(w, status, body)
}

func parseID(r *http.Request, param string) (int64, error) {
	s := chi.URLParam(r, param)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", param, s)
	}
	return id, nil
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("www.decode", "invalid request body: %v", err)
	}
	return nil
}

// clientIP is the request's remote address without the port. Forwarded
// headers are only reflected here when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
