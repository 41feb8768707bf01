package www

import (
	"errors"
	"net/http"
	"time"

	"simplemes/errs"
	"simplemes/orders"
	"simplemes/store"
)

type transitionBody struct {
	WorkstationID string `json:"workstation_id"`
	ChangedBy     string `json:"changed_by"`
	Reason        string `json:"reason"`
}

type metadataBody struct {
	Priority    *int       `json:"priority"`
	PlannedDate *time.Time `json:"planned_date"`
	Notes       *string    `json:"notes"`
	Sequence    *int64     `json:"sequence"`
	Quantity    *int       `json:"quantity"`
}

type productionBody struct {
	Units int `json:"units"`
}

// orderID parses {id}, writing a 400 on failure.
func (h *Handlers) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.DB().ListOrders(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if list == nil {
		list = []store.Order{}
	}
	writeJSON(w, list)
}

func (h *Handlers) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.NewOrder
	if err := decode(r, &in); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	o, err := h.engine.Orders().CreateOrder(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSONStatus(w, http.StatusCreated, o)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.engine.DB().GetOrder(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, o)
}

func (h *Handlers) apiUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var body metadataBody
	if err := decode(r, &body); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	o, err := h.engine.Orders().UpdateMetadata(r.Context(), id, store.OrderMetadata{
		Priority:    body.Priority,
		PlannedDate: body.PlannedDate,
		Notes:       body.Notes,
		Sequence:    body.Sequence,
		Quantity:    body.Quantity,
	})
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, o)
}

func (h *Handlers) apiOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	st, err := h.engine.Orders().Status(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, st)
}

func (h *Handlers) apiOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	hist, err := h.engine.Orders().History(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if hist == nil {
		hist = []store.OrderStatusHistory{}
	}
	writeJSON(w, hist)
}

func (h *Handlers) apiOrderActionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	logs, err := h.engine.Orders().ActionLogs(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	if logs == nil {
		logs = []store.ActionLog{}
	}
	writeJSON(w, logs)
}

// transitionHandler decodes the common transition body and applies fn.
func (h *Handlers) transitionHandler(fn func(r *http.Request, id int64, b transitionBody) (*store.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.orderID(w, r)
		if !ok {
			return
		}
		var body transitionBody
		if err := decode(r, &body); err != nil {
			h.writeErr(w, r, err, nil)
			return
		}
		o, err := fn(r, id, body)
		if err != nil {
			h.writeErr(w, r, err, nil)
			return
		}
		writeJSON(w, o)
	}
}

func (h *Handlers) apiStartOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(func(r *http.Request, id int64, b transitionBody) (*store.Order, error) {
		return h.engine.Orders().Start(r.Context(), id, b.WorkstationID, b.ChangedBy)
	})(w, r)
}

func (h *Handlers) apiPauseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(func(r *http.Request, id int64, b transitionBody) (*store.Order, error) {
		return h.engine.Orders().Pause(r.Context(), id, b.ChangedBy, b.Reason)
	})(w, r)
}

func (h *Handlers) apiResumeOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(func(r *http.Request, id int64, b transitionBody) (*store.Order, error) {
		return h.engine.Orders().Resume(r.Context(), id, b.WorkstationID, b.ChangedBy, b.Reason)
	})(w, r)
}

func (h *Handlers) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(func(r *http.Request, id int64, b transitionBody) (*store.Order, error) {
		return h.engine.Orders().Cancel(r.Context(), id, b.ChangedBy, b.Reason)
	})(w, r)
}

func (h *Handlers) apiExecuteStep(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req orders.ExecuteRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	res, err := h.engine.Orders().ExecuteStep(r.Context(), id, req)
	if err != nil {
		// A failed required action still produced logs and a state change.
		if res != nil && errors.Is(err, errs.ErrActionFailed) {
			h.writeErr(w, r, err, res)
			return
		}
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiReportProduction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var body productionBody
	if err := decode(r, &body); err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	o, err := h.engine.Orders().ReportProduction(r.Context(), id, body.Units)
	if err != nil {
		h.writeErr(w, r, err, nil)
		return
	}
	writeJSON(w, o)
}
