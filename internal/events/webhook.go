package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Shadowcheck-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// WebhookPublisher POSTs events as signed JSON to a fixed set of URLs.
type WebhookPublisher struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewWebhookPublisher creates a WebhookPublisher. Each delivery is attempted
// up to three times with 1s and 5s backoff.
func NewWebhookPublisher(urls []string, secret string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (p *WebhookPublisher) SetMetricsRecorder(fn MetricsRecorder) {
	p.onMetrics = fn
}

// Publish implements Publisher. Every URL is attempted; the error reports the
// number of URLs that never accepted the event.
func (p *WebhookPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	signature := signPayload(body, p.secret)

	failed := 0
	for _, url := range p.urls {
		if !p.deliver(ctx, url, body, signature) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("webhook delivery failed for %d of %d urls", failed, len(p.urls))
	}
	return nil
}

// deliver sends body to url with retries.
func (p *WebhookPublisher) deliver(ctx context.Context, url string, body []byte, signature string) bool {
	for attempt, delay := range p.delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}

		success, errMsg := p.doDelivery(ctx, url, body, signature)
		if p.onMetrics != nil {
			p.onMetrics(success)
		}
		if success {
			return true
		}
		p.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
	return false
}

// doDelivery performs a single HTTP POST delivery.
func (p *WebhookPublisher) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
