package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odoobridge/sync-backend/pkg/logger"
)

const (
	defaultThreshold = 10
	defaultCooldown  = time.Hour
)

// Mailer delivers one operator message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ServiceParams wires the notifier dependencies.
type ServiceParams struct {
	Logger     *logger.Logger
	Mailer     Mailer
	AdminEmail string
	Threshold  int
	Cooldown   time.Duration
}

// Service tracks consecutive sync failures process-wide and emails the
// operator once the threshold is crossed, with a cooldown so a long outage
// produces one email per window instead of one per job.
type Service struct {
	logg       *logger.Logger
	mailer     Mailer
	adminEmail string
	threshold  int
	cooldown   time.Duration

	mu          sync.Mutex
	consecutive int
	lastSent    time.Time
	now         func() time.Time
}

// NewService builds a failure notifier.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if params.AdminEmail == "" {
		return nil, errors.New("admin email is required")
	}
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	cooldown := params.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Service{
		logg:       params.Logger,
		mailer:     params.Mailer,
		adminEmail: params.AdminEmail,
		threshold:  threshold,
		cooldown:   cooldown,
		now:        time.Now,
	}, nil
}

// RecordFailure counts one more consecutive failure and notifies the
// operator when the threshold is crossed outside the cooldown window.
func (s *Service) RecordFailure(ctx context.Context, message string) {
	s.mu.Lock()
	s.consecutive++
	count := s.consecutive
	shouldSend := count >= s.threshold && s.now().Sub(s.lastSent) >= s.cooldown
	if shouldSend {
		s.lastSent = s.now()
	}
	s.mu.Unlock()

	if !shouldSend {
		return
	}

	subject := fmt.Sprintf("Odoo sync: %d consecutive failures", count)
	body := fmt.Sprintf(
		"The synchronization queue has failed %d times in a row.\n\nLast error:\n%s\n\nCheck the queue statistics and failed jobs for details.",
		count, message,
	)
	if err := s.mailer.Send(ctx, s.adminEmail, subject, body); err != nil {
		s.logg.Error(ctx, "failed to send failure notification", err)
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "consecutive_failures", count), "operator notified of sync failures")
}

// Reset clears the consecutive-failure counter after any success.
func (s *Service) Reset() {
	s.mu.Lock()
	s.consecutive = 0
	s.mu.Unlock()
}

// ConsecutiveFailures exposes the current counter for diagnostics.
func (s *Service) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive
}
