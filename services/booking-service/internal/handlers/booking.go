package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/tenantbook/libs/httpx"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

// Engine is the booking lifecycle as seen by HTTP.
type Engine interface {
	Availability(ctx context.Context, tenantID, resourceID, date string) (booking.AvailabilityResult, error)
	Create(ctx context.Context, in booking.CreateInput) (model.Booking, error)
	Get(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tenantID, bookingID, reason string) (model.Booking, error)
	Confirm(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	List(ctx context.Context, tenantID string, f model.ListFilter) ([]model.Booking, error)
	Occupancy(ctx context.Context, tenantID, resourceID string, at time.Time) (booking.Occupancy, error)
}

type BookingHandler struct {
	engine Engine
	logger *slog.Logger
}

func NewBookingHandler(engine Engine, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, logger: logger}
}

const tenantPrefix = "/api/v1/tenants/{tenantID}"

// Register mounts the tenant routes. mw wraps each route after matching, so path values
// such as tenantID are visible to it.
func (h *BookingHandler) Register(mux *http.ServeMux, mw ...httpx.Middleware) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, httpx.Chain(fn, mw...))
	}
	handle("GET "+tenantPrefix+"/availability", h.Availability)
	handle("GET "+tenantPrefix+"/bookings", h.List)
	handle("POST "+tenantPrefix+"/bookings", h.Create)
	handle("GET "+tenantPrefix+"/bookings/{bookingID}", h.Get)
	handle("POST "+tenantPrefix+"/bookings/{bookingID}/cancel", h.Cancel)
	handle("POST "+tenantPrefix+"/bookings/{bookingID}/confirm", h.Confirm)
	handle("GET "+tenantPrefix+"/occupancy", h.Occupancy)
}

type createBookingRequest struct {
	ResourceID string            `json:"resource_id"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	User       model.Contact     `json:"user"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata"`
	Payment    *model.Payment    `json:"payment"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type bookingResponse struct {
	BookingID  string            `json:"booking_id"`
	TenantID   string            `json:"tenant_id"`
	ResourceID string            `json:"resource_id"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	Status     string            `json:"status"`
	Source     string            `json:"source"`
	User       model.Contact     `json:"user"`
	Payment    *model.Payment    `json:"payment,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

type listBookingsResponse struct {
	Bookings []bookingResponse `json:"bookings"`
}

type slotItem struct {
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Available        bool   `json:"available"`
	Capacity         int    `json:"capacity"`
	CurrentOccupancy int    `json:"current_occupancy"`
	Reason           string `json:"reason,omitempty"`
}

type availabilityResponse struct {
	TenantID   string     `json:"tenant_id"`
	ResourceID string     `json:"resource_id"`
	Date       string     `json:"date"`
	Timezone   string     `json:"timezone"`
	Slots      []slotItem `json:"slots"`
}

type occupancyResponse struct {
	TenantID   string `json:"tenant_id"`
	ResourceID string `json:"resource_id"`
	SlotStart  string `json:"slot_start"`
	Capacity   int    `json:"capacity"`
	Count      int    `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.engine.Availability(r.Context(), r.PathValue("tenantID"), strings.TrimSpace(q.Get("resource_id")), strings.TrimSpace(q.Get("date")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := availabilityResponse{
		TenantID:   res.TenantID,
		ResourceID: res.ResourceID,
		Date:       res.Date.String(),
		Timezone:   res.Timezone,
		Slots:      make([]slotItem, 0, len(res.Slots)),
	}
	for _, s := range res.Slots {
		out.Slots = append(out.Slots, toSlotItem(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body", Code: "validation_error"})
		return
	}
	if strings.TrimSpace(req.StartTime) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "start_time is required", Code: "validation_error"})
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start_time", Code: "validation_error"})
		return
	}
	var end time.Time
	if strings.TrimSpace(req.EndTime) != "" {
		end, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid end_time", Code: "validation_error"})
			return
		}
	}

	b, err := h.engine.Create(r.Context(), booking.CreateInput{
		TenantID:       r.PathValue("tenantID"),
		ResourceID:     req.ResourceID,
		Start:          start,
		End:            end,
		User:           req.User,
		Source:         model.Source(strings.TrimSpace(req.Source)),
		Metadata:       req.Metadata,
		Payment:        req.Payment,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Get(r.Context(), r.PathValue("tenantID"), r.PathValue("bookingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelBookingRequest
	// The body is optional.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body", Code: "validation_error"})
			return
		}
	}
	b, err := h.engine.Cancel(r.Context(), r.PathValue("tenantID"), r.PathValue("bookingID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Confirm(r.Context(), r.PathValue("tenantID"), r.PathValue("bookingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ListFilter{
		ResourceID: strings.TrimSpace(q.Get("resource_id")),
		Status:     model.Status(strings.TrimSpace(q.Get("status"))),
	}
	var err error
	if f.From, err = parseOptionalTime(q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid from", Code: "validation_error"})
		return
	}
	if f.To, err = parseOptionalTime(q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid to", Code: "validation_error"})
		return
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Code: "validation_error"})
			return
		}
	}

	list, err := h.engine.List(r.Context(), r.PathValue("tenantID"), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := listBookingsResponse{Bookings: make([]bookingResponse, 0, len(list))}
	for _, b := range list {
		out.Bookings = append(out.Bookings, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

// Occupancy reports the allocator counter for the slot containing slot_start.
func (h *BookingHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := parseOptionalTime(q.Get("slot_start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid slot_start", Code: "validation_error"})
		return
	}
	o, err := h.engine.Occupancy(r.Context(), r.PathValue("tenantID"), strings.TrimSpace(q.Get("resource_id")), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occupancyResponse{
		TenantID:   o.TenantID,
		ResourceID: o.ResourceID,
		SlotStart:  o.SlotStart.UTC().Format(time.RFC3339),
		Capacity:   o.Capacity,
		Count:      o.Count,
	})
}

func parseOptionalTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// writeError maps domain errors to a status and a stable code the caller can branch on.
func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, booking.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, booking.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrCapacityConflict):
		status, code = http.StatusConflict, "capacity_conflict"
	case errors.Is(err, booking.ErrFeatureRestricted):
		status, code = http.StatusForbidden, "feature_restricted"
	case errors.Is(err, booking.ErrStorage):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()), "route", r.Pattern)
		msg = http.StatusText(status)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func toBookingResponse(b model.Booking) bookingResponse {
	meta := b.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return bookingResponse{
		BookingID:  b.ID,
		TenantID:   b.TenantID,
		ResourceID: b.ResourceID,
		StartTime:  b.Start.UTC().Format(time.RFC3339),
		EndTime:    b.End.UTC().Format(time.RFC3339),
		Status:     string(b.Status),
		Source:     string(b.Source),
		User:       b.User,
		Payment:    b.Payment,
		Metadata:   meta,
		CreatedAt:  b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toSlotItem(s availability.Slot) slotItem {
	return slotItem{
		StartTime:        s.Start.UTC().Format(time.RFC3339),
		EndTime:          s.End.UTC().Format(time.RFC3339),
		Available:        s.Available,
		Capacity:         s.Capacity,
		CurrentOccupancy: s.Occupancy,
		Reason:           s.Reason,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
