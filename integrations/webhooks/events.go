// Package webhooks delivers committed ledger events to external receivers
// with HMAC-signed bodies and exponential backoff.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// EventHeader carries the ledger event type.
	EventHeader = "X-AgentVault-Event"
	// SignatureHeader carries "sha256=<hex hmac>" of the body.
	SignatureHeader = "X-AgentVault-Signature"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 32
)

// ErrQueueFull is returned by Notify when the receiver has fallen behind and
// the event was dropped.
var ErrQueueFull = errors.New("webhook: delivery queue full")

// EventPayload is the webhook body for one journaled ledger event.
type EventPayload struct {
	Type       string            `json:"type"`
	Seq        uint64            `json:"seq"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	RecordedAt time.Time         `json:"recordedAt"`
	DeliveryID string            `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	topics    []string
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithTopics restricts deliveries to event types starting with one of the
// prefixes, e.g. "billing." or "wallet.ownership".
func WithTopics(prefixes ...string) Option {
	return func(d *Dispatcher) {
		for _, p := range prefixes {
			if p = strings.TrimSpace(p); p != "" {
				d.topics = append(d.topics, p)
			}
		}
	}
}

// WithQueueSize bounds the number of pending deliveries.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queueSize:   defaultQueueSize,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.queue = make(chan delivery, dispatcher.queueSize)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Wants reports whether eventType passes the topic filter.
func (d *Dispatcher) Wants(eventType string) bool {
	if d == nil {
		return false
	}
	if len(d.topics) == 0 {
		return true
	}
	for _, prefix := range d.topics {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// Notify queues a committed ledger event without blocking. Events filtered
// out by the topic list are dropped silently; events arriving while the queue
// is full are dropped with ErrQueueFull.
func (d *Dispatcher) Notify(payload EventPayload) error {
	if !d.Wants(payload.Type) {
		return nil
	}
	if payload.RecordedAt.IsZero() {
		payload.RecordedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("evt-%d-%d", payload.Seq, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

func (d *Dispatcher) enqueue(eventType string, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, job.eventType)
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

// Verify checks a signature header against body in constant time.
func Verify(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(header)))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
