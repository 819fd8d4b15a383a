package acr

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Sink delivers one serialized Rf record. Implementations may be
// no-op, logging (development), or a real HTTP POST to the billing
// service (Ralf).
type Sink interface {
	SendRecord(record []byte) error
}

// NoopSink discards every record. When no billing sink is configured
// the Factory returns a NullACR rather than using NoopSink; NoopSink
// gives a real ACR whose records are discarded.
type NoopSink struct{}

func (NoopSink) SendRecord([]byte) error { return nil }

// LoggingSink logs records at debug level. Useful for local/dev runs
// where no Ralf endpoint is configured, mirroring events.LoggingPublisher.
type LoggingSink struct {
	Logger *slog.Logger
}

func (s LoggingSink) SendRecord(record []byte) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("[ACR] record", "body", string(record))
	return nil
}

// HTTPSink POSTs each record to a configured Rf/Ralf endpoint using
// the standard library HTTP client. No third-party REST client
// library appears anywhere in the example corpus (see DESIGN.md), so
// this is built directly on net/http, like the HSS client.
type HTTPSink struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPSink builds an HTTPSink with sane defaults.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) SendRecord(record []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(record))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		s.logger().Warn("[ACR] failed to send record", "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger().Warn("[ACR] billing sink rejected record", "status", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

func (s *HTTPSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *HTTPSink) timeout() time.Duration {
	if s.Client != nil && s.Client.Timeout > 0 {
		return s.Client.Timeout
	}
	return 5 * time.Second
}
