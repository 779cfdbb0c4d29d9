package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind names what happened to a request
type EventKind string

const (
	EventStationEntered   EventKind = "station_entered"
	EventRequestCompleted EventKind = "request_completed"
	EventRequestAssigned  EventKind = "request_assigned"
	EventRequestCreated   EventKind = "request_created"
	EventStationReminder  EventKind = "station_reminder"
	EventOrderSupplied    EventKind = "order_supplied"
)

// Recipient is a user to notify with their contact points
type Recipient struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Phone  string    `json:"phone,omitempty"`
	Email  string    `json:"email,omitempty"`
}

// Event is emitted after a workflow change has been committed
type Event struct {
	ID                 uuid.UUID   `json:"id"`
	Kind               EventKind   `json:"kind"`
	RequestID          uuid.UUID   `json:"request_id"`
	RequestTitle       string      `json:"request_title"`
	RequestDescription string      `json:"request_description,omitempty"`
	SectionName        string      `json:"section_name,omitempty"`
	StationName        string      `json:"station_name,omitempty"`
	StationNameAr      string      `json:"station_name_ar,omitempty"`
	FromStationName    string      `json:"from_station_name,omitempty"`
	Comment            string      `json:"comment,omitempty"`
	ActorName          string      `json:"actor_name,omitempty"`
	Recipients         []Recipient `json:"recipients"`
	OccurredAt         time.Time   `json:"occurred_at"`
}

// Publisher hands committed events to delivery; it must not block on network I/O or fail the caller
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// Publishers fans each event out to every member in order
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, event Event) {
	for _, p := range ps {
		p.Publish(ctx, event)
	}
}

// FanOut resolves who hears about a request arriving at a station binding:
// the assignee, else the section managers, else the allowed users. Unrestricted
// stations notify nobody.
func FanOut(req *ServiceRequest, ps *PipelineStation) []User {
	switch {
	case ps.ShowAssignedRequests:
		if req.AssignedTo != nil {
			return []User{*req.AssignedTo}
		}
		return nil
	case ps.ShowTheManagersOnly:
		if req.Section != nil {
			return req.Section.Managers
		}
		return nil
	default:
		return ps.AllowedUsers
	}
}

func recipientsOf(users []User) []Recipient {
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, Recipient{UserID: u.ID, Name: u.DisplayName(), Phone: u.Phone, Email: u.Email})
	}
	return out
}
