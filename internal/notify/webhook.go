/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package notify

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

	"reward-ledger-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EventType string

const (
	EventWithdrawalRequested EventType = "withdrawal.requested"
	EventWithdrawalApproved  EventType = "withdrawal.approved"
	EventWithdrawalRejected  EventType = "withdrawal.rejected"
)

const (
	SignatureHeader = "X-Reward-Signature"
	EventHeader     = "X-Reward-Event"

	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 5
	defaultMinBackoff  = 500 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
	defaultDrainTime   = 30 * time.Second
	queueSize          = 64
)

// Payload is the JSON body delivered to the notification endpoint. Recipient is the
// operator id for new requests and the owning user for decisions.
type Payload struct {
	Type       EventType                `json:"type"`
	DeliveryId string                   `json:"delivery_id"`
	Recipient  string                   `json:"recipient"`
	AmountUSD  string                   `json:"amount_usd"`
	Withdrawal models.WithdrawalRequest `json:"withdrawal"`
	SentAt     time.Time                `json:"sent_at"`
}

type delivery struct {
	eventType EventType
	body      []byte
}

// WebhookNotifier delivers signed withdrawal events asynchronously with retries.
type WebhookNotifier struct {
	endpoint    string
	secret      []byte
	operatorId  string
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	drainTime   time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	queue     chan delivery
	wg        sync.WaitGroup
}

type Option func(*WebhookNotifier)

// WithHttpClient overrides the HTTP client used for deliveries.
func WithHttpClient(client *http.Client) Option {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(n *WebhookNotifier) {
		if maxAttempts > 0 {
			n.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			n.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			n.maxBackoff = maxBackoff
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued deliveries.
func WithDrainTimeout(d time.Duration) Option {
	return func(n *WebhookNotifier) {
		if d > 0 {
			n.drainTime = d
		}
	}
}

// NewWebhookNotifier constructs a notifier and spawns the delivery worker.
func NewWebhookNotifier(cfg models.NotifyConfig, operatorId string, opts ...Option) (*WebhookNotifier, error) {
	endpoint := strings.TrimSpace(cfg.WebhookURL)
	if endpoint == "" {
		return nil, errors.New("notify: webhook url required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("notify: webhook secret required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client, err := newHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("notify: unable to configure transport: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &WebhookNotifier{
		endpoint:    endpoint,
		secret:      []byte(cfg.WebhookSecret),
		operatorId:  operatorId,
		client:      client,
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		drainTime:   defaultDrainTime,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, queueSize),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.wg.Add(1)
	go n.worker()
	return n, nil
}

// Close stops accepting events and delivers what is already queued. Deliveries still
// pending after the drain timeout are abandoned.
func (n *WebhookNotifier) Close() {
	if n == nil {
		return
	}
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(n.drainTime):
			zap.L().Warn("Webhook queue not drained before timeout, abandoning deliveries",
				zap.Int("remaining", len(n.queue)))
			n.cancel()
			<-drained
		}
		n.cancel()
	})
}

// WithdrawalRequested tells the operator a new request is waiting for review
func (n *WebhookNotifier) WithdrawalRequested(_ context.Context, withdrawal *models.WithdrawalRequest) error {
	return n.enqueue(EventWithdrawalRequested, n.operatorId, withdrawal)
}

// WithdrawalProcessed tells the user how their request was decided
func (n *WebhookNotifier) WithdrawalProcessed(_ context.Context, withdrawal *models.WithdrawalRequest) error {
	switch withdrawal.Status {
	case models.WithdrawalApproved:
		return n.enqueue(EventWithdrawalApproved, withdrawal.UserId, withdrawal)
	case models.WithdrawalRejected:
		return n.enqueue(EventWithdrawalRejected, withdrawal.UserId, withdrawal)
	}
	return fmt.Errorf("notify: withdrawal %s is still %s", withdrawal.Id, withdrawal.Status)
}

func (n *WebhookNotifier) enqueue(eventType EventType, recipient string, withdrawal *models.WithdrawalRequest) error {
	if n == nil {
		return errors.New("notify: notifier not initialised")
	}

	body, err := json.Marshal(Payload{
		Type:       eventType,
		DeliveryId: uuid.New().String(),
		Recipient:  recipient,
		AmountUSD:  decimal.New(withdrawal.Amount, -3).StringFixed(3),
		Withdrawal: *withdrawal,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return errors.New("notify: notifier closed")
	}

	select {
	case n.queue <- delivery{eventType: eventType, body: body}:
		return nil
	default:
		return errors.New("notify: delivery queue full")
	}
}

func (n *WebhookNotifier) worker() {
	defer n.wg.Done()
	for job := range n.queue {
		if n.ctx.Err() != nil {
			continue
		}
		n.process(job)
	}
}

func (n *WebhookNotifier) process(job delivery) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.minBackoff
	b.MaxInterval = n.maxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(n.maxAttempts-1)), n.ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return n.send(n.ctx, job)
	}, policy)
	if err != nil {
		zap.L().Warn("Webhook delivery abandoned",
			zap.String("event", string(job.eventType)),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}

	zap.L().Debug("Webhook delivered", zap.String("event", string(job.eventType)), zap.Int("attempts", attempt))
}

func (n *WebhookNotifier) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(job.eventType))
	req.Header.Set(SignatureHeader, Sign(n.secret, job.body))

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("notify: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
