package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/metrics"
)

// dialer is the subset of gomail.Dialer used for sending.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender sends single-recipient notices through an SMTP relay.
type Sender struct {
	dialer         dialer
	host           string
	senderAddress  string
	senderName     string
	retryCount     int
	retryBackoffMs int
	log            *zap.SugaredLogger
	now            func() time.Time
}

type Option func(*Sender)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Sender) {
		if log != nil {
			s.log = log
		}
	}
}

func withDialer(d dialer) Option {
	return func(s *Sender) { s.dialer = d }
}

func NewSender(cfg config.Mail, opts ...Option) *Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for internal relays
	}
	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@sla-escalation.local"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "SLA Escalation"
	}
	retryBackoffMs := cfg.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}
	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}

	s := &Sender{
		dialer:         d,
		host:           cfg.Host,
		senderAddress:  senderAddr,
		senderName:     senderName,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
		log:            zap.NewNop().Sugar(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("mail")
	s.log.Infow("Initialized mail sender",
		"host", cfg.Host, "port", cfg.Port, "user", cfg.User,
		"insecureSkipVerify", cfg.InsecureSkipVerify, "retryCount", retryCount)
	return s
}

// Host returns the SMTP host, used as metric label.
func (s *Sender) Host() string {
	return s.host
}

func (s *Sender) message(to, subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if html, err := RenderHTML(subject, body, s.senderName, s.now()); err == nil {
		msg.AddAlternative("text/html", html)
	} else {
		s.log.Warnw("Rendering HTML part failed, sending plain text only", "error", err.Error())
	}
	return msg
}

// SendEmail delivers one message to a single recipient. It returns when the
// relay accepted the message, all retries failed, or ctx is done.
func (s *Sender) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("mail recipient is empty")
	}
	msg := s.message(to, subject, body)

	var lastErr error
	backoffMs := s.retryBackoffMs
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialAndSend(ctx, msg)
		if err == nil {
			s.log.Debugw("Mail sent", "to", to, "attempt", attempt+1)
			metrics.MailSendSuccess.WithLabelValues(s.host).Inc()
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < s.retryCount {
			s.log.Warnw("Mail send attempt failed, retrying",
				"to", to, "attempt", attempt+1, "backoffMs", backoffMs, "error", err.Error())
			select {
			case <-ctx.Done():
				metrics.MailSendFailure.WithLabelValues(s.host).Inc()
				return ctx.Err()
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			}
			backoffMs = int(math.Min(float64(backoffMs)*2, 32000))
		}
	}

	s.log.Warnw("Mail send failed", "to", to, "attempts", s.retryCount+1, "error", lastErr.Error())
	metrics.MailSendFailure.WithLabelValues(s.host).Inc()
	return lastErr
}

// dialAndSend runs one SMTP transaction, abandoning it when ctx ends first.
func (s *Sender) dialAndSend(ctx context.Context, msg *gomail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
