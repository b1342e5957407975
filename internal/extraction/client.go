package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/felo/emailparser/internal/logging"
	"github.com/felo/emailparser/internal/parser"
)

const (
	DefaultModel   = "aggregated_email_model"
	DefaultTimeout = 30 * time.Second

	// timeReceivedLayout keeps the request timestamp at minute precision
	timeReceivedLayout = "2006-01-02T15:04"
	maxResponseSize    = 10 << 20
)

// Client submits normalized messages to the extraction service
type Client struct {
	url        string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	newID      func() string
}

type Option func(*Client)

// WithModel sets the model name sent with every request
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout bounds each call, including any rate limit wait
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit limits outbound calls to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client posting to url
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		model:      DefaultModel,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends msg to the extraction service and returns one Result per
// quote. An empty slice is a valid answer. Every failure is an *UpstreamError.
func (c *Client) Submit(ctx context.Context, msg *parser.NormalizedMessage) ([]Result, error) {
	req := c.newRequest(msg)
	log := logging.Log.WithField("trace_id", req.UniqueID)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &UpstreamError{Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("encode request: %w", err)}
	}
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.WithField("request", string(payload)).Debug("AI Lab request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.WithError(err).Error("AI Lab request failed")
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		body := strings.TrimSpace(string(raw))
		log.WithField("status", resp.StatusCode).Errorf("AI Lab error response: %s", body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var decoded Response
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, &UpstreamError{
				StatusCode: resp.StatusCode,
				Body:       string(raw),
				Err:        fmt.Errorf("decode response: %w", err),
			}
		}
	}
	log.WithField("quotes", len(decoded.Quotes)).Debugf("AI Lab response: %s", raw)

	results := make([]Result, 0, len(decoded.Quotes))
	for _, q := range decoded.Quotes {
		results = append(results, q.toResult())
	}
	return results, nil
}

func (c *Client) newRequest(msg *parser.NormalizedMessage) *Request {
	return &Request{
		Model:        c.model,
		UniqueID:     c.newID(),
		From:         msg.From,
		To:           nonNil(msg.To),
		Cc:           nonNil(msg.Cc),
		Subject:      msg.Subject,
		HTMLPart:     msg.Body,
		TimeReceived: c.now().Format(timeReceivedLayout),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
