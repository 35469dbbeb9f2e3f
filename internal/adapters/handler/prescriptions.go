package handler

import (
	"errors"
	"net/http"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/service"
	"github.com/google/uuid"
)

type ReviewPrescriptionRequest struct {
	Status     string `json:"status" validate:"required"`
	AdminNotes string `json:"admin_notes" validate:"max=2000"`
}

// HandleUploadPrescription accepts a multipart form with a "file" part and an optional "order_id".
func (h *Handler) HandleUploadPrescription(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, service.MaxPrescriptionSize+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(w, "prescription file is too large")
			return
		}
		badRequest(w, "expected a multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	cmd := service.UploadCommand{
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	if raw := r.FormValue("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "order_id must be a UUID")
			return
		}
		cmd.OrderID = &id
	}

	p, err := h.prescriptions.Upload(r.Context(), actor, cmd)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toPrescriptionResponse(p))
}

// HandleReviewPrescription records a staff decision. Approval of a linked prescription
// may confirm a paid order in the same step.
func (h *Handler) HandleReviewPrescription(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "prescriptionID")
	if err != nil {
		badRequest(w, "prescriptionID must be a UUID")
		return
	}

	var req ReviewPrescriptionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	status, ok := domain.ParsePrescriptionStatus(req.Status)
	if !ok {
		badRequest(w, "unknown prescription status "+req.Status)
		return
	}

	p, result, err := h.prescriptions.Review(r.Context(), actor, service.ReviewCommand{
		PrescriptionID: id,
		Status:         status,
		AdminNotes:     req.AdminNotes,
	})
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	resp := struct {
		Prescription PrescriptionResponse `json:"prescription"`
		Order        *TransitionResponse  `json:"order,omitempty"`
	}{Prescription: toPrescriptionResponse(p)}
	if result != nil {
		t := toTransitionResponse(result)
		resp.Order = &t
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandlePrescriptionImage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, err := pathUUID(r, "prescriptionID")
	if err != nil {
		badRequest(w, "prescriptionID must be a UUID")
		return
	}

	url, err := h.prescriptions.ImageURL(r.Context(), actor, id)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"url": url})
}
