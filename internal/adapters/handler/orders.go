package handler

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/oapi-codegen/runtime"
)

type AdminStatusRequest struct {
	Status   string `json:"status" validate:"required"`
	Location string `json:"location" validate:"max=200"`
	Note     string `json:"note" validate:"max=1000"`
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "orderID")
	if err != nil {
		badRequest(w, "orderID must be a UUID")
		return
	}

	details, err := h.queries.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	resp := OrderDetailsResponse{
		Order:        toOrderResponse(details.Order),
		Payments:     make([]PaymentResponse, 0, len(details.Payments)),
		Tracking:     make([]TrackingResponse, 0, len(details.Tracking)),
		PaymentState: string(details.PaymentState),
		Message:      details.Message,
	}
	for _, p := range details.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}
	for _, t := range details.Tracking {
		resp.Tracking = append(resp.Tracking, TrackingResponse{
			Status:    string(t.Status),
			Location:  t.Location,
			Note:      t.Note,
			CreatedAt: t.CreatedAt,
		})
	}

	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit, offset, err := pageParams(r)
	if err != nil {
		badRequest(w, "limit and offset must be integers")
		return
	}

	orders, err := h.queries.ListOrders(r.Context(), actor, limit, offset)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// HandleAdminStatusUpdate moves an order forward along the fulfilment pipeline, or cancels it.
// The state machine enforces the payment and prescription guards for staff too.
func (h *Handler) HandleAdminStatusUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "orderID")
	if err != nil {
		badRequest(w, "orderID must be a UUID")
		return
	}

	var req AdminStatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		badRequest(w, "unknown order status "+req.Status)
		return
	}

	result, err := h.reconciler.Apply(r.Context(), domain.AdminStatusUpdate{
		OrderID:  orderID,
		Status:   status,
		Location: req.Location,
		Note:     req.Note,
		ActorID:  actor.UserID,
	})
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toTransitionResponse(result))
}

// HandleListCallbacks shows the raw callbacks received for one gateway reference.
func (h *Handler) HandleListCallbacks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var methodName, reference string
	limit := int64(50)
	if err := runtime.BindQueryParameter("form", true, true, "method", q, &methodName); err != nil {
		badRequest(w, "method is required")
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "reference", q, &reference); err != nil {
		badRequest(w, "reference is required")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		badRequest(w, "limit must be an integer")
		return
	}

	method, ok := domain.ParsePaymentMethod(methodName)
	if !ok {
		badRequest(w, "unsupported payment method "+methodName)
		return
	}

	records, err := h.callbackLog.Find(r.Context(), method, reference, limit)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	resp := make([]CallbackRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toCallbackRecordResponse(rec))
	}
	respondWithJSON(w, http.StatusOK, resp)
}
