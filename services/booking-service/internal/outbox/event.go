package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

const (
	EventBookingCreated   = "booking.created.v1"
	EventBookingCancelled = "booking.cancelled.v1"
	EventBookingConfirmed = "booking.confirmed.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type bookingPayload struct {
	BookingID  string            `json:"booking_id"`
	TenantID   string            `json:"tenant_id"`
	ResourceID string            `json:"resource_id"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	Status     string            `json:"status"`
	Source     string            `json:"source,omitempty"`
	UserName   string            `json:"user_name,omitempty"`
	UserEmail  string            `json:"user_email,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt string            `json:"occurred_at"`
}

// BookingEvent builds the envelope for a booking state change. The booking id is the
// aggregate id, so all events for one booking land on the same partition.
func BookingEvent(eventType string, b model.Booking, at time.Time) (Event, error) {
	payload, err := json.Marshal(bookingPayload{
		BookingID:  b.ID,
		TenantID:   b.TenantID,
		ResourceID: b.ResourceID,
		StartTime:  b.Start.UTC().Format(time.RFC3339),
		EndTime:    b.End.UTC().Format(time.RFC3339),
		Status:     string(b.Status),
		Source:     string(b.Source),
		UserName:   b.User.Name,
		UserEmail:  b.User.Email,
		Metadata:   b.Metadata,
		OccurredAt: at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
