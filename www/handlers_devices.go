package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"simplemes/errs"
	"simplemes/plc"
	"simplemes/store"
)

type readBody struct {
	Address   string `json:"address"`
	Strict    bool   `json:"strict"`
	TimeoutMs int    `json:"timeout_ms"`
}

type writeBody struct {
	Address string `json:"address"`
	Value   any    `json:"value"`
}

func parseAddress(op, s string) (plc.AddressDescriptor, error) {
	desc, err := plc.ParseAddress(s)
	if err != nil {
		return desc, errs.Validation(op, "invalid address").Wrap(err)
	}
	return desc, nil
}

func (h *Handlers) apiListDevices(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.DB().ListDeviceStatuses(r.Context())
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if rows == nil {
		rows = []store.DeviceStatusRow{}
	}
	writeJSON(w, rows)
}

func (h *Handlers) apiCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d store.Device
	if err := decode(r, &d); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if d.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if _, err := h.engine.DB().CreateDevice(r.Context(), &d); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSONStatus(w, http.StatusCreated, d)
}

func (h *Handlers) apiDeviceConnect(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Gateway().Connect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiDeviceRead(w http.ResponseWriter, r *http.Request) {
	const op = "www.DeviceRead"
	var body readBody
	if err := decode(r, &body); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	desc, err := parseAddress(op, body.Address)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	id := chi.URLParam(r, "id")
	var res plc.ReadResult
	if body.Strict {
		res, err = h.engine.Gateway().ReadStrict(r.Context(), id, desc, time.Duration(body.TimeoutMs)*time.Millisecond)
	} else {
		res, err = h.engine.Gateway().Read(r.Context(), id, desc)
	}
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiDeviceWrite(w http.ResponseWriter, r *http.Request) {
	const op = "www.DeviceWrite"
	var body writeBody
	if err := decode(r, &body); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	desc, err := parseAddress(op, body.Address)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if body.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	res, err := h.engine.Gateway().Write(r.Context(), chi.URLParam(r, "id"), desc, body.Value)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiDeviceStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Gateway().Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, res)
}
