// Package audit records authentication events.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"helpdesk-auth/backend/internal/audit/domain"
	auditrepo "helpdesk-auth/backend/internal/audit/repository"
)

// writeTimeout bounds a single event write.
const writeTimeout = 2 * time.Second

// Recorder writes a single authentication event. Record is best-effort: failures are
// logged and do not affect the caller.
type Recorder interface {
	Record(ctx context.Context, e domain.Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, domain.Event) {}

// Logger implements Recorder on top of an event repository.
type Logger struct {
	repo auditrepo.Repository
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewLogger returns a Recorder that persists to repo.
func NewLogger(repo auditrepo.Repository, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{repo: repo, log: log.WithField("component", "audit"), now: time.Now}
}

// WithClock replaces the clock used for event timestamps.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// Record assigns ID and CreatedAt when unset and writes e. A cancelled request still
// gets its event written.
func (l *Logger) Record(ctx context.Context, e domain.Event) {
	if l.repo == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Create(wctx, &e); err != nil {
		l.log.WithError(err).WithField("action", e.Action).Warn("failed to record auth event")
	}
}
