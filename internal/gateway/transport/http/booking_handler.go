package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	assignmentapp "github.com/snoutservices/relay/internal/assignment/app"
	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
	threadsapp "github.com/snoutservices/relay/internal/threads/app"
	threadsdomain "github.com/snoutservices/relay/internal/threads/domain"
)

type sitterOffboarder interface {
	DeactivateSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*numberdomain.PhoneNumber, error)
}

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// BookingHandler consumes scheduling-system events: booking confirmations
// bind threads to numbers and open assignment windows; cancellations close
// them; offboarding starts the sitter number cooldown.
type BookingHandler struct {
	threads  threadsdomain.ThreadRepository
	binding  *threadsapp.Binding
	windows  *assignmentapp.Manager
	registry sitterOffboarder
	audit    auditor
	validate *validator.Validate
	logger   *slog.Logger
}

func NewBookingHandler(
	threads threadsdomain.ThreadRepository,
	binding *threadsapp.Binding,
	windows *assignmentapp.Manager,
	registry sitterOffboarder,
	audit auditor,
	logger *slog.Logger,
) *BookingHandler {
	return &BookingHandler{
		threads:  threads,
		binding:  binding,
		windows:  windows,
		registry: registry,
		audit:    audit,
		validate: validator.New(),
		logger:   logger.With("component", "booking_handler"),
	}
}

func (h *BookingHandler) HandleBookingConfirmed(w http.ResponseWriter, r *http.Request) {
	var req BookingConfirmedRequest
	if !h.decode(w, r, &req) {
		return
	}

	orgID := uuid.MustParse(req.OrgID)
	clientID := uuid.MustParse(req.ClientID)
	var sitterID uuid.NullUUID
	if req.SitterID != "" {
		sitterID = uuid.NullUUID{UUID: uuid.MustParse(req.SitterID), Valid: true}
	}

	thread, err := h.threads.FindOrCreateJob(r.Context(), orgID, clientID, sitterID, req.BookingRef)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to resolve booking thread", "error", err, "booking_ref", req.BookingRef)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sitterID.Valid && !thread.SitterID.Valid {
		if err := h.threads.SetSitter(r.Context(), thread.ID, sitterID); err != nil {
			h.logger.ErrorContext(r.Context(), "Failed to set thread sitter", "error", err, "thread_id", thread.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		thread.SitterID = sitterID
	}

	resp := BookingConfirmedResponse{ThreadID: thread.ID.String()}

	if !thread.BoundNumberID.Valid {
		class := threadsapp.DetermineNumberClass(threadsapp.ClassContext{
			IsMeetAndGreet:  req.IsMeetAndGreet,
			IsOneTimeClient: req.IsOneTimeClient,
			SitterID:        sitterID,
		})
		num, err := h.binding.BindNumberToThread(r.Context(), thread.ID, class, threadsapp.BindContext{
			OrgID:    orgID,
			ClientID: uuid.NullUUID{UUID: clientID, Valid: true},
			SitterID: sitterID,
		})
		if err != nil {
			h.writeBindError(w, r, err)
			return
		}
		resp.BoundNumberID = num.ID.String()
		resp.NumberClass = string(num.Class)
	} else {
		resp.BoundNumberID = thread.BoundNumberID.UUID.String()
		resp.NumberClass = string(thread.NumberClass)
	}

	if sitterID.Valid {
		window, err := h.windows.UpsertWindow(r.Context(), orgID, req.BookingRef, thread.ID, sitterID.UUID, req.StartAt, req.EndAt, req.ServiceType)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "Failed to upsert assignment window", "error", err, "booking_ref", req.BookingRef)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.WindowID = window.ID.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) HandleBookingCancelled(w http.ResponseWriter, r *http.Request) {
	var req BookingCancelledRequest
	if !h.decode(w, r, &req) {
		return
	}

	orgID := uuid.MustParse(req.OrgID)
	closed, err := h.windows.CloseAllForBooking(r.Context(), orgID, req.BookingRef)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to close booking windows", "error", err, "booking_ref", req.BookingRef)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"closedWindows": closed})
}

func (h *BookingHandler) HandleSitterOffboarded(w http.ResponseWriter, r *http.Request) {
	var req SitterOffboardedRequest
	if !h.decode(w, r, &req) {
		return
	}

	orgID := uuid.MustParse(req.OrgID)
	sitterID := uuid.MustParse(req.SitterID)

	num, err := h.registry.DeactivateSitterNumber(r.Context(), orgID, sitterID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to deactivate sitter number", "error", err, "sitter_id", sitterID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	unassigned, err := h.threads.UnassignSitterThreads(r.Context(), orgID, sitterID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to unassign sitter threads", "error", err, "sitter_id", sitterID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit.Record(r.Context(), auditdomain.Event{
		OrgID:  orgID,
		Type:   auditdomain.EventThreadsUnassigned,
		Detail: map[string]any{"sitter_id": sitterID.String(), "threads": unassigned},
	})

	out := map[string]any{"unassignedThreads": unassigned}
	if num != nil {
		out["deactivatedNumberId"] = num.ID.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BookingHandler) writeBindError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *threadsdomain.InvariantViolationError
	switch {
	case errors.Is(err, numberdomain.ErrNoAvailableNumber):
		writeError(w, http.StatusConflict, "no masking number available")
	case errors.Is(err, numberdomain.ErrNotConfigured):
		writeError(w, http.StatusConflict, "no front desk number configured")
	case errors.As(err, &violation):
		writeError(w, http.StatusUnprocessableEntity, violation.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Failed to bind thread number", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
