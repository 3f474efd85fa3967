package entityevent

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mylog"
	"github.com/MarcGrol/idmevents/lib/mypublisher"
)

const AuditTopicName = "entityevent-audit"

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailure AuditStatus = "FAILURE"
)

type AuditEntry struct {
	EventID       string
	EventType     EventType
	ContentType   string
	ContentUID    string
	TransactionID string
	RootID        string
	SuperOwnerID  string
	Actor         string
	Status        AuditStatus
	ErrorCode     string
	Error         string
	Timestamp     time.Time
}

func (e AuditEntry) GetEventTypeName() string {
	return fmt.Sprintf("entityevent.%s", e.Status)
}

func (e AuditEntry) GetAggregateName() string {
	return e.ContentUID
}

//go:generate mockgen -source=audit.go -package entityevent -destination audit_mock.go AuditSink
type AuditSink interface {
	Audit(c context.Context, entry AuditEntry) error
}

func newAuditEntry[T Content](c context.Context, event *EntityEvent[T], actor string, now time.Time, err error) AuditEntry {
	entry := AuditEntry{
		EventID:       event.ID,
		EventType:     event.Type,
		ContentType:   event.ContentType,
		ContentUID:    event.GetContentUID(),
		TransactionID: event.TransactionID(),
		RootID:        event.RootID(),
		SuperOwnerID:  event.SuperOwnerID(),
		Actor:         actor,
		Status:        AuditStatusSuccess,
		Timestamp:     now,
	}
	if err != nil {
		entry.Status = AuditStatusFailure
		entry.ErrorCode = myerrors.GetCode(err)
		entry.Error = err.Error()
	}
	return entry
}

type logAuditSink struct {
	logger mylog.Logger
}

// NewLogAuditSink writes audit entries to the log.
func NewLogAuditSink(logger mylog.Logger) AuditSink {
	return &logAuditSink{
		logger: logger,
	}
}

func (s *logAuditSink) Audit(c context.Context, entry AuditEntry) error {
	severity := mylog.SeverityInfo
	if entry.Status == AuditStatusFailure {
		severity = mylog.SeverityWarn
	}
	s.logger.Log(c, entry.ContentUID, severity, "Audit %s %s of %s by %s: %s %s",
		entry.Status, entry.EventType, entry.ContentType, entry.Actor, entry.ErrorCode, entry.Error)
	return nil
}

type publisherAuditSink struct {
	publisher mypublisher.Publisher
}

// NewPublisherAuditSink forwards audit entries to a SIEM via the outbox publisher.
func NewPublisherAuditSink(publisher mypublisher.Publisher) AuditSink {
	return &publisherAuditSink{
		publisher: publisher,
	}
}

func (s *publisherAuditSink) Audit(c context.Context, entry AuditEntry) error {
	err := s.publisher.Publish(c, AuditTopicName, entry)
	if err != nil {
		return fmt.Errorf("error publishing audit entry for %s: %w", entry.ContentUID, err)
	}
	return nil
}
