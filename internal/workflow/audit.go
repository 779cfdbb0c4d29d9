package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidLogEntry is returned when a log entry misses a required field
var ErrInvalidLogEntry = errors.New("invalid log entry")

// LogEntry is one audit record to append
type LogEntry struct {
	RequestID uuid.UUID
	Type      LogType
	Comment   string
	ActorID   uuid.UUID
	From      *uuid.UUID
	To        *uuid.UUID
}

// AuditLog appends and reads the immutable history of a request
type AuditLog struct {
	repo Repository
	now  func() time.Time
}

// NewAuditLog creates an audit log over repo; pass a transactional repo to write atomically with state
func NewAuditLog(repo Repository, now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{repo: repo, now: now}
}

// Append inserts a log row stamped with the next sequence number of its request
func (a *AuditLog) Append(ctx context.Context, entry LogEntry) (*ServiceRequestLog, error) {
	if entry.RequestID == uuid.Nil || entry.ActorID == uuid.Nil {
		return nil, fmt.Errorf("%w: request and actor are required", ErrInvalidLogEntry)
	}
	switch entry.Type {
	case LogTypeComment, LogTypeStationChange, LogTypeAssignment, LogTypeUpdate:
	default:
		return nil, fmt.Errorf("%w: unknown log type %q", ErrInvalidLogEntry, entry.Type)
	}

	seq, err := a.repo.NextLogSequence(ctx, entry.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate log sequence: %w", err)
	}
	log := &ServiceRequestLog{
		ServiceRequestID: entry.RequestID,
		Sequence:         seq,
		FromStationID:    entry.From,
		ToStationID:      entry.To,
		LogType:          entry.Type,
		Comment:          entry.Comment,
		CreatedByID:      entry.ActorID,
		CreatedAt:        a.now(),
	}
	if err := a.repo.AppendLog(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to append log: %w", err)
	}
	return log, nil
}

// List returns a request's history, newest first
func (a *AuditLog) List(ctx context.Context, requestID uuid.UUID) ([]ServiceRequestLog, error) {
	logs, err := a.repo.ListLogs(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}
