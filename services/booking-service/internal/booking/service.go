// Package booking turns booking requests into durable, capacity-checked reservations.
//
// Create acquires a slot counter unit before anything is written and releases it on every
// failure path after that point. Cancel releases the unit the booking was created under.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/allocator"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/policy"
)

const (
	DefaultListLimit     = 50
	MaxListLimit         = 200
	MaxIdempotencyKeyLen = 200
)

// Store persists bookings. Get, Cancel and Confirm return an error wrapping ErrNotFound
// for unknown ids.
type Store interface {
	// Create inserts b. A non-empty idempotencyKey is claimed in the same transaction;
	// when another booking holds it nothing is written and ErrIdempotencyKeyUsed is returned.
	Create(ctx context.Context, b model.Booking, idempotencyKey string) (model.Booking, error)
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (b model.Booking, found bool, err error)
	Get(ctx context.Context, tenantID, id string) (model.Booking, error)
	// Cancel moves a non-cancelled booking to cancelled and merges reason and
	// timestamp into its metadata. changed is false when it was already cancelled.
	Cancel(ctx context.Context, tenantID, id, reason string, at time.Time) (b model.Booking, changed bool, err error)
	// Confirm moves a pending booking to confirmed. changed is false when the booking
	// was not pending; the returned booking carries its current status.
	Confirm(ctx context.Context, tenantID, id string, at time.Time) (b model.Booking, changed bool, err error)
	ListActiveOverlapping(ctx context.Context, tenantID, resourceID string, from, to time.Time) ([]availability.Interval, error)
	List(ctx context.Context, tenantID string, f model.ListFilter) ([]model.Booking, error)
}

type Service struct {
	policies            policy.Provider
	alloc               allocator.Allocator
	store               Store
	logger              *slog.Logger
	metrics             *Metrics
	now                 func() time.Time
	newID               func() string
	compensationTimeout time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCompensationTimeout bounds releases that run after the caller's context is gone.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

func New(policies policy.Provider, alloc allocator.Allocator, store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		policies:            policies,
		alloc:               alloc,
		store:               store,
		logger:              logger,
		now:                 time.Now,
		newID:               uuid.NewString,
		compensationTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// gate checks the bookings feature and loads the tenant policy. Nothing is written
// before it passes.
func (s *Service) gate(ctx context.Context, tenantID string) (policy.TenantPolicy, error) {
	if strings.TrimSpace(tenantID) == "" {
		return policy.TenantPolicy{}, validationf("tenant_id is required")
	}
	enabled, err := s.policies.FeatureEnabled(ctx, tenantID, policy.FeatureBookings)
	if err != nil {
		return policy.TenantPolicy{}, policyErr(err)
	}
	if !enabled {
		return policy.TenantPolicy{}, fmt.Errorf("%w: bookings are not enabled for tenant %s", ErrFeatureRestricted, tenantID)
	}
	p, err := s.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		return policy.TenantPolicy{}, policyErr(err)
	}
	return p, nil
}

func policyErr(err error) error {
	switch {
	case errors.Is(err, policy.ErrTenantNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, policy.ErrInvalidPolicy), errors.Is(err, policy.ErrUnknownTimezone):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return storageErr("load policy", err)
	}
}

// storeErr keeps not-found and validation sentinels from the store and treats the rest
// as transient.
func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return storageErr(op, err)
}

type AvailabilityResult struct {
	TenantID   string
	ResourceID string
	Date       policy.Date
	Timezone   string
	Slots      []availability.Slot
}

func (s *Service) Availability(ctx context.Context, tenantID, resourceID, date string) (res AvailabilityResult, err error) {
	defer func() { s.metrics.operation("availability", outcome(err)) }()

	p, err := s.gate(ctx, tenantID)
	if err != nil {
		return AvailabilityResult{}, err
	}
	d, err := policy.ParseDate(date)
	if err != nil {
		return AvailabilityResult{}, validationf("%v", err)
	}
	resource, ok := p.Resource(resourceID)
	if !ok {
		return AvailabilityResult{}, fmt.Errorf("%w: resource %q", ErrNotFound, resourceID)
	}
	res = AvailabilityResult{TenantID: tenantID, ResourceID: resource.ID, Date: d, Timezone: p.Timezone, Slots: []availability.Slot{}}

	window, ok, err := policy.WorkingWindow(d, p.Timezone, p.WorkingHours)
	if err != nil {
		return AvailabilityResult{}, validationf("%v", err)
	}
	if !ok {
		return res, nil
	}
	span := availability.Interval{Start: window.Start, End: window.End}
	q := availability.QueryRange(span, p.Buffer())
	busy, err := s.store.ListActiveOverlapping(ctx, tenantID, resource.ID, q.Start, q.End)
	if err != nil {
		return AvailabilityResult{}, storeErr("list bookings", err)
	}
	earliest, latest := p.AdvanceBounds(s.now())
	res.Slots = availability.Compute(availability.Request{
		Window:   span,
		Slot:     p.SlotDuration(),
		Buffer:   p.Buffer(),
		Capacity: resource.Capacity,
		Earliest: earliest,
		Latest:   latest,
		Busy:     busy,
	})
	return res, nil
}

type CreateInput struct {
	TenantID   string
	ResourceID string
	Start      time.Time
	// End defaults to Start plus the tenant's slot duration.
	End      time.Time
	User     model.Contact
	Source   model.Source
	Metadata map[string]string
	Payment  *model.Payment
	// IdempotencyKey makes retries of the same create return the first booking.
	IdempotencyKey string
}

func (in *CreateInput) normalize() {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ResourceID = strings.TrimSpace(in.ResourceID)
	in.User.Name = strings.TrimSpace(in.User.Name)
	in.User.Email = strings.TrimSpace(in.User.Email)
	in.User.Phone = strings.TrimSpace(in.User.Phone)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.Source == "" {
		in.Source = model.SourceAPI
	}
}

func (in CreateInput) validate() error {
	switch {
	case in.ResourceID == "":
		return validationf("resource_id is required")
	case in.Start.IsZero():
		return validationf("start is required")
	case in.User.Name == "":
		return validationf("user.name is required")
	case in.User.Email == "":
		return validationf("user.email is required")
	}
	if _, err := mail.ParseAddress(in.User.Email); err != nil {
		return validationf("invalid user.email")
	}
	if len(in.IdempotencyKey) > MaxIdempotencyKeyLen {
		return validationf("idempotency key is longer than %d bytes", MaxIdempotencyKeyLen)
	}
	if !in.Source.Valid() {
		return validationf("invalid source %q", in.Source)
	}
	if in.Payment != nil {
		if !in.Payment.Status.Valid() {
			return validationf("invalid payment status %q", in.Payment.Status)
		}
		if in.Payment.Amount < 0 {
			return validationf("payment amount must be >= 0")
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (b model.Booking, err error) {
	defer func() { s.metrics.operation("create", outcome(err)) }()

	in.normalize()
	p, err := s.gate(ctx, in.TenantID)
	if err != nil {
		return model.Booking{}, err
	}
	if err := in.validate(); err != nil {
		return model.Booking{}, err
	}
	if in.IdempotencyKey != "" {
		prior, found, err := s.store.FindByIdempotencyKey(ctx, in.TenantID, in.IdempotencyKey)
		if err != nil {
			return model.Booking{}, storeErr("find idempotency key", err)
		}
		if found {
			return replay(in, prior)
		}
	}
	resource, ok := p.Resource(in.ResourceID)
	if !ok {
		return model.Booking{}, fmt.Errorf("%w: resource %q", ErrNotFound, in.ResourceID)
	}

	start := in.Start.UTC()
	end := in.End.UTC()
	if in.End.IsZero() {
		end = start.Add(p.SlotDuration())
	}
	if !end.After(start) {
		return model.Booking{}, validationf("end must be after start")
	}

	now := s.now().UTC()
	earliest, latest := p.AdvanceBounds(now)
	if start.Before(earliest) {
		return model.Booking{}, validationf("start is inside the %d minute advance notice", p.MinAdvanceNoticeMinutes)
	}
	if !latest.IsZero() && start.After(latest) {
		return model.Booking{}, validationf("start is more than %d days ahead", p.MaxAdvanceDays)
	}

	window, err := s.workingWindow(p, start)
	if err != nil {
		return model.Booking{}, err
	}
	if start.Before(window.Start) || end.After(window.End) {
		return model.Booking{}, validationf("booking is outside working hours")
	}

	status := model.StatusConfirmed
	if p.RequireApproval {
		status = model.StatusPending
	}

	key := allocator.Key{
		TenantID:   in.TenantID,
		ResourceID: resource.ID,
		SlotStart:  policy.SlotStart(start, window.Start, p.SlotDuration()),
	}
	acquired, err := s.alloc.Acquire(ctx, key, resource.Capacity)
	if err != nil {
		s.metrics.acquire("error")
		return model.Booking{}, storageErr("acquire slot", err)
	}
	if !acquired {
		s.metrics.acquire("full")
		return model.Booking{}, fmt.Errorf("%w: slot %s is fully booked", ErrCapacityConflict, key.SlotStart.Format(time.RFC3339))
	}
	s.metrics.acquire("acquired")

	buffer := p.Buffer()
	busy, err := s.store.ListActiveOverlapping(ctx, in.TenantID, resource.ID, start.Add(-2*buffer), end.Add(2*buffer))
	if err != nil {
		s.release(ctx, key, "overlap_check_failed")
		return model.Booking{}, storeErr("check overlap", err)
	}
	if availability.CountOverlapping(availability.Interval{Start: start, End: end}, busy, buffer) >= resource.Capacity {
		s.release(ctx, key, "overlap_conflict")
		return model.Booking{}, fmt.Errorf("%w: overlapping bookings exhaust capacity", ErrCapacityConflict)
	}

	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	created, err := s.store.Create(ctx, model.Booking{
		ID:         s.newID(),
		TenantID:   in.TenantID,
		ResourceID: resource.ID,
		Start:      start,
		End:        end,
		SlotStart:  key.SlotStart,
		User:       in.User,
		Status:     status,
		Source:     in.Source,
		Payment:    in.Payment,
		Metadata:   meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, in.IdempotencyKey)
	if errors.Is(err, ErrIdempotencyKeyUsed) {
		// A concurrent retry with the same key committed first.
		s.release(ctx, key, "idempotent_replay")
		prior, found, ferr := s.store.FindByIdempotencyKey(ctx, in.TenantID, in.IdempotencyKey)
		if ferr != nil {
			return model.Booking{}, storeErr("find idempotency key", ferr)
		}
		if !found {
			return model.Booking{}, storageErr("find idempotency key", err)
		}
		return replay(in, prior)
	}
	if err != nil {
		s.release(ctx, key, "persist_failed")
		return model.Booking{}, storeErr("create booking", err)
	}
	s.logger.Info("booking created", "tenant_id", created.TenantID, "booking_id", created.ID, "resource_id", created.ResourceID, "status", created.Status)
	return created, nil
}

// replay returns the booking an idempotency key already produced, provided the retry
// asks for the same resource and start.
func replay(in CreateInput, prior model.Booking) (model.Booking, error) {
	if prior.ResourceID != in.ResourceID || !prior.Start.Equal(in.Start.UTC()) {
		return model.Booking{}, validationf("idempotency key %q was used for a different booking", in.IdempotencyKey)
	}
	return prior, nil
}

func (s *Service) workingWindow(p policy.TenantPolicy, start time.Time) (policy.Window, error) {
	loc, err := policy.LoadLocation(p.Timezone)
	if err != nil {
		return policy.Window{}, validationf("%v", err)
	}
	window, ok, err := policy.WorkingWindow(policy.DateOf(start, loc), p.Timezone, p.WorkingHours)
	if err != nil {
		return policy.Window{}, validationf("%v", err)
	}
	if !ok {
		return policy.Window{}, validationf("no working hours on %s", policy.DateOf(start, loc))
	}
	return window, nil
}

// release gives back one unit of key. It runs detached from ctx so a caller timeout
// cannot leak capacity.
func (s *Service) release(ctx context.Context, key allocator.Key, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	released, err := s.alloc.Release(ctx, key)
	switch {
	case err != nil:
		s.metrics.release(reason, "error")
		s.logger.Error("slot release failed", "err", err, "slot", key.String(), "reason", reason)
	case !released:
		s.metrics.release(reason, "noop")
		s.logger.Warn("slot release found no held unit", "slot", key.String(), "reason", reason)
	default:
		s.metrics.release(reason, "released")
	}
}

func (s *Service) Cancel(ctx context.Context, tenantID, bookingID, reason string) (b model.Booking, err error) {
	defer func() { s.metrics.operation("cancel", outcome(err)) }()

	p, err := s.gate(ctx, tenantID)
	if err != nil {
		return model.Booking{}, err
	}
	if strings.TrimSpace(bookingID) == "" {
		return model.Booking{}, validationf("booking_id is required")
	}
	current, err := s.store.Get(ctx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, storeErr("get booking", err)
	}
	if !current.Status.CanTransitionTo(model.StatusCancelled) {
		return current, nil
	}

	updated, changed, err := s.store.Cancel(ctx, tenantID, bookingID, strings.TrimSpace(reason), s.now().UTC())
	if err != nil {
		return model.Booking{}, storeErr("cancel booking", err)
	}
	if !changed {
		// Another cancel won the conditional update and owns the release.
		return updated, nil
	}
	s.release(ctx, s.slotKey(p, updated), "cancelled")
	s.logger.Info("booking cancelled", "tenant_id", tenantID, "booking_id", bookingID)
	return updated, nil
}

// slotKey prefers the key stored on the booking. Rows written without one fall back
// to rounding start against the current policy.
func (s *Service) slotKey(p policy.TenantPolicy, b model.Booking) allocator.Key {
	key := allocator.Key{TenantID: b.TenantID, ResourceID: b.ResourceID, SlotStart: b.SlotStart}
	if !key.SlotStart.IsZero() {
		return key
	}
	key.SlotStart = b.Start.UTC().Truncate(time.Minute)
	if window, err := s.workingWindow(p, b.Start); err == nil {
		key.SlotStart = policy.SlotStart(b.Start, window.Start, p.SlotDuration())
	}
	return key
}

func (s *Service) Confirm(ctx context.Context, tenantID, bookingID string) (b model.Booking, err error) {
	defer func() { s.metrics.operation("confirm", outcome(err)) }()

	if _, err := s.gate(ctx, tenantID); err != nil {
		return model.Booking{}, err
	}
	current, err := s.store.Get(ctx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, storeErr("get booking", err)
	}
	if current.Status == model.StatusConfirmed {
		return current, nil
	}
	if !current.Status.CanTransitionTo(model.StatusConfirmed) {
		return model.Booking{}, validationf("booking %s is %s", bookingID, current.Status)
	}

	updated, changed, err := s.store.Confirm(ctx, tenantID, bookingID, s.now().UTC())
	if err != nil {
		return model.Booking{}, storeErr("confirm booking", err)
	}
	if !changed && updated.Status != model.StatusConfirmed {
		return model.Booking{}, validationf("booking %s is %s", bookingID, updated.Status)
	}
	if changed {
		s.logger.Info("booking confirmed", "tenant_id", tenantID, "booking_id", bookingID)
	}
	return updated, nil
}

type Occupancy struct {
	TenantID   string
	ResourceID string
	SlotStart  time.Time
	Capacity   int
	Count      int
}

// Occupancy reads the allocator counter for the slot containing at. Availability is
// computed from stored bookings; this reports what the counter itself holds.
func (s *Service) Occupancy(ctx context.Context, tenantID, resourceID string, at time.Time) (o Occupancy, err error) {
	defer func() { s.metrics.operation("occupancy", outcome(err)) }()

	p, err := s.gate(ctx, tenantID)
	if err != nil {
		return Occupancy{}, err
	}
	if at.IsZero() {
		return Occupancy{}, validationf("slot_start is required")
	}
	resource, ok := p.Resource(resourceID)
	if !ok {
		return Occupancy{}, fmt.Errorf("%w: resource %q", ErrNotFound, resourceID)
	}
	window, err := s.workingWindow(p, at.UTC())
	if err != nil {
		return Occupancy{}, err
	}
	key := allocator.Key{
		TenantID:   tenantID,
		ResourceID: resource.ID,
		SlotStart:  policy.SlotStart(at.UTC(), window.Start, p.SlotDuration()),
	}
	n, err := s.alloc.Count(ctx, key)
	if err != nil {
		return Occupancy{}, storageErr("count slot", err)
	}
	return Occupancy{TenantID: tenantID, ResourceID: resource.ID, SlotStart: key.SlotStart, Capacity: resource.Capacity, Count: n}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	if _, err := s.gate(ctx, tenantID); err != nil {
		return model.Booking{}, err
	}
	b, err := s.store.Get(ctx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, storeErr("get booking", err)
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, tenantID string, f model.ListFilter) (out []model.Booking, err error) {
	defer func() { s.metrics.operation("list", outcome(err)) }()

	if _, err := s.gate(ctx, tenantID); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, validationf("invalid status %q", f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, validationf("to must be after from")
	}
	switch {
	case f.Limit < 0:
		return nil, validationf("limit must be >= 0")
	case f.Limit == 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	out, err = s.store.List(ctx, tenantID, f)
	if err != nil {
		return nil, storeErr("list bookings", err)
	}
	return out, nil
}
