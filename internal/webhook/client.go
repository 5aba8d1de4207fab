package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagery/internal/id"
)

const (
	HeaderSignature = "X-Imagery-Signature"
	HeaderTimestamp = "X-Imagery-Timestamp"
	HeaderEvent     = "X-Imagery-Event"
	HeaderDelivery  = "X-Imagery-Delivery"
)

// ErrRejected marks a delivery the receiver refused with a final status.
var ErrRejected = errors.New("webhook rejected")

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient *http.Client
	secret     string
	attempts   int
	backoff    backoff
}

type backoff struct {
	initial time.Duration
	max     time.Duration
}

// next doubles the wait per attempt up to max. A server supplied
// Retry-After wins when it is longer, still capped at max.
func (b backoff) next(attempt int, retryAfter time.Duration) time.Duration {
	d := b.initial
	for i := 1; i < attempt && d < b.max; i++ {
		d *= 2
	}
	d = max(d, retryAfter)
	return min(d, b.max)
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		secret:     cfg.SigningSecret,
		attempts:   max(1, cfg.MaxAttempts),
		backoff: backoff{
			initial: cfg.InitialBackoff,
			max:     max(cfg.MaxBackoff, cfg.InitialBackoff),
		},
	}
}

// Send posts payload as JSON to endpoint. Every attempt of one delivery
// carries the same delivery id, timestamp and signature so receivers can
// deduplicate. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, event)
	header.Set(HeaderDelivery, id.New())
	header.Set(HeaderTimestamp, timestamp)
	header.Set(HeaderSignature, Sign(c.secret, timestamp, body))

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		retryAfter, err := c.post(ctx, endpoint, header, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrRejected) || attempt == c.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff.next(attempt, retryAfter)):
		}
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

// post makes one attempt. It returns the server's Retry-After hint, if any.
func (c *Client) post(ctx context.Context, endpoint string, header http.Header, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header = header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook returned status=%d", code)
	default:
		return 0, fmt.Errorf("%w: status=%d", ErrRejected, code)
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Sign computes the signature header value for a delivery.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
