package notifications

import (
	"fmt"
	"strings"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

const messageHeader = "*نظام الصيانة*"

// Message is the rendered text of one event
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Renderer turns events into recipient-facing text
type Renderer struct {
	baseURL string
}

// NewRenderer creates a renderer linking requests under baseURL
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimRight(baseURL, "/")}
}

// RequestURL returns the detail link of a request, or "" without a base URL
func (r *Renderer) RequestURL(event workflow.Event) string {
	if r.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/request_detail/%s", r.baseURL, event.RequestID)
}

// Render builds the message for event
func (r *Renderer) Render(event workflow.Event) Message {
	station := event.StationNameAr
	if station == "" {
		station = event.StationName
	}

	var subject string
	lines := []string{messageHeader}
	switch event.Kind {
	case workflow.EventStationEntered:
		subject = fmt.Sprintf("Request arrived at %s", event.StationName)
		lines = append(lines, "وصل طلب جديد إلى محطة: "+station)
	case workflow.EventStationReminder:
		subject = fmt.Sprintf("Request waiting at %s", event.StationName)
		lines = append(lines, "تذكير: طلب بانتظار الإجراء في محطة: "+station)
	case workflow.EventRequestCompleted:
		subject = "Request completed"
		lines = append(lines, "تم إكمال طلبك")
	case workflow.EventRequestAssigned:
		subject = "Request assigned to you"
		lines = append(lines, "تم إسناد طلب إليك")
	case workflow.EventOrderSupplied:
		subject = "Purchase order supplied"
		lines = append(lines, "تم توريد الطلب الخاص بك")
	case workflow.EventRequestCreated:
		subject = "New service request"
		lines = append(lines, "طلب خدمة جديد من قسم: "+event.SectionName)
	default:
		subject = "Service request update"
	}

	lines = append(lines, "عنوان الطلب: "+event.RequestTitle)
	if event.Comment != "" && event.Kind != workflow.EventStationEntered {
		lines = append(lines, "ملاحظة: "+event.Comment)
	}
	if url := r.RequestURL(event); url != "" {
		lines = append(lines, "رابط الطلب: "+url)
	}
	return Message{Subject: subject, Body: strings.Join(lines, "\n")}
}
