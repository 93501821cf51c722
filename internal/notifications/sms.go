package notifications

import (
	"context"

	"github.com/theratime/scheduling-platform/pkg/logging"
)

// SMSSender sends SMS messages to appointment participants.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SimpleSMSSender adapts a provider send function to the SMSSender interface.
type SimpleSMSSender struct {
	sendFunc func(ctx context.Context, to, from, body string) error
	from     string
	logger   *logging.Logger
}

// NewSimpleSMSSender creates an SMS sender with a custom send function.
func NewSimpleSMSSender(from string, sendFunc func(ctx context.Context, to, from, body string) error, logger *logging.Logger) *SimpleSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleSMSSender{sendFunc: sendFunc, from: from, logger: logger}
}

// SendSMS sends an SMS message.
func (s *SimpleSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s.sendFunc == nil {
		s.logger.Warn("notifications: SMS sender not configured")
		return nil
	}
	return s.sendFunc(ctx, to, s.from, body)
}

// StubSMSSender logs but doesn't send. Used in development and tests.
type StubSMSSender struct {
	logger *logging.Logger
}

// NewStubSMSSender creates a stub SMS sender.
func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

// SendSMS logs the message instead of sending it.
func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ SMSSender = (*SimpleSMSSender)(nil)
var _ SMSSender = (*StubSMSSender)(nil)
