package mail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/metrics"
)

type fakeDialer struct {
	mu    sync.Mutex
	errs  []error
	block chan struct{}
	sent  []*gomail.Message
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m...)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	if len(f.errs) > 1 {
		f.errs = f.errs[1:]
	}
	return err
}

func (f *fakeDialer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testMailConfig(host string) config.Mail {
	return config.Mail{
		Host:           host,
		Port:           2525,
		SenderAddress:  "escalations@example.com",
		SenderName:     "Claims Oversight",
		RetryBackoffMs: 1,
	}
}

func TestNewSenderDefaults(t *testing.T) {
	s := NewSender(config.Mail{Host: "smtp.example.com", Port: 25, RetryCount: -3})
	assert.Equal(t, "smtp.example.com", s.Host())
	assert.Equal(t, "noreply@sla-escalation.local", s.senderAddress)
	assert.Equal(t, "SLA Escalation", s.senderName)
	assert.Equal(t, 0, s.retryCount)
	assert.Equal(t, 100, s.retryBackoffMs)

	d, ok := s.dialer.(*gomail.Dialer)
	require.True(t, ok)
	assert.Nil(t, d.TLSConfig)

	insecure := NewSender(config.Mail{Host: "relay.internal", Port: 25, InsecureSkipVerify: true})
	d = insecure.dialer.(*gomail.Dialer)
	require.NotNil(t, d.TLSConfig)
	assert.True(t, d.TLSConfig.InsecureSkipVerify)
}

func TestSendEmail(t *testing.T) {
	fake := &fakeDialer{}
	s := NewSender(testMailConfig("fake-success"), withDialer(fake))
	before := testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues("fake-success"))

	err := s.SendEmail(context.Background(), "counsel@example.com", "SLA breach on claim WC-1", "First line\n\nSecond paragraph")
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls())

	var buf bytes.Buffer
	_, err = fake.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "To: counsel@example.com")
	assert.Contains(t, raw, "Subject: SLA breach on claim WC-1")
	assert.Contains(t, raw, "Claims Oversight")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues("fake-success")))
}

func TestSendEmailRejectsEmptyRecipient(t *testing.T) {
	fake := &fakeDialer{}
	s := NewSender(testMailConfig("fake-empty"), withDialer(fake))
	assert.Error(t, s.SendEmail(context.Background(), "", "s", "b"))
	assert.Equal(t, 0, fake.calls())
}

func TestSendEmailRetries(t *testing.T) {
	cfg := testMailConfig("fake-retry")
	cfg.RetryCount = 2

	t.Run("succeeds after transient failures", func(t *testing.T) {
		fake := &fakeDialer{errs: []error{errors.New("421 try later"), errors.New("421 try later"), nil}}
		s := NewSender(cfg, withDialer(fake))
		require.NoError(t, s.SendEmail(context.Background(), "a@example.com", "s", "b"))
		assert.Equal(t, 3, fake.calls())
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		fake := &fakeDialer{errs: []error{errors.New("421 try later"), errors.New("554 rejected")}}
		s := NewSender(cfg, withDialer(fake))
		before := testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues("fake-retry"))

		err := s.SendEmail(context.Background(), "a@example.com", "s", "b")
		require.EqualError(t, err, "554 rejected")
		assert.Equal(t, 3, fake.calls())
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues("fake-retry")))
	})
}

func TestSendEmailHonoursContext(t *testing.T) {
	t.Run("cancelled before sending", func(t *testing.T) {
		fake := &fakeDialer{}
		s := NewSender(testMailConfig("fake-ctx"), withDialer(fake))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, s.SendEmail(ctx, "a@example.com", "s", "b"), context.Canceled)
		assert.Equal(t, 0, fake.calls())
	})

	t.Run("deadline while relay hangs", func(t *testing.T) {
		fake := &fakeDialer{block: make(chan struct{})}
		defer close(fake.block)
		cfg := testMailConfig("fake-hang")
		cfg.RetryCount = 3
		s := NewSender(cfg, withDialer(fake))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := s.SendEmail(ctx, "a@example.com", "s", "b")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

// startTestSMTPServer starts a minimal SMTP server on a random port that
// accepts one message and hands its DATA section to the returned channel.
func startTestSMTPServer(t *testing.T) (host string, port int, data <-chan string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	out := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		fmt.Fprintf(conn, "220 localhost Test SMTP Service Ready\r\n")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				fmt.Fprintf(conn, "250-localhost Hello\r\n250 OK\r\n")
			case strings.HasPrefix(line, "DATA"):
				fmt.Fprintf(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
				var body strings.Builder
				for {
					dline, derr := r.ReadString('\n')
					if derr != nil || strings.TrimSpace(dline) == "." {
						break
					}
					body.WriteString(dline)
				}
				out <- body.String()
				fmt.Fprintf(conn, "250 OK: queued as 12345\r\n")
			case strings.HasPrefix(line, "QUIT"):
				fmt.Fprintf(conn, "221 Bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "250 OK\r\n")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	stop = func() {
		ln.Close()
		wg.Wait()
	}
	return "127.0.0.1", addr.Port, out, stop
}

func TestSendEmailOverSMTP(t *testing.T) {
	host, port, data, stop := startTestSMTPServer(t)
	defer stop()

	cfg := testMailConfig(host)
	cfg.Port = port
	s := NewSender(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.SendEmail(ctx, "hr@widget.example.com", "SLA breach escalation", "Claim WC-7 is overdue."))

	select {
	case raw := <-data:
		assert.Contains(t, raw, "hr@widget.example.com")
		assert.Contains(t, raw, "SLA breach escalation")
	case <-time.After(5 * time.Second):
		t.Fatal("SMTP server did not receive a message")
	}
}
