package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. Cancelled is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	}
	return false
}

type Source string

const (
	SourceChat   Source = "chat"
	SourcePortal Source = "portal"
	SourceAPI    Source = "api"
)

func (s Source) Valid() bool {
	return s == SourceChat || s == SourcePortal || s == SourceAPI
}

type PaymentStatus string

const (
	PaymentNone       PaymentStatus = "none"
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentNone, PaymentInitiated, PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Payment amounts are in minor currency units.
type Payment struct {
	ID       string        `json:"id,omitempty"`
	Status   PaymentStatus `json:"status"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency,omitempty"`
}

type Booking struct {
	ID         string
	TenantID   string
	ResourceID string
	Start      time.Time
	End        time.Time
	// SlotStart is the allocator key the booking holds capacity under.
	SlotStart time.Time
	User      Contact
	Status    Status
	Source    Source
	Payment   *Payment
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

type ListFilter struct {
	ResourceID string
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
}
