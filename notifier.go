package sloggate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Constants for WebhookNotifier default values.
const (
	defaultQueueSize     = 128
	defaultSendTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
)

// WebhookOptions configures a WebhookNotifier.
type WebhookOptions struct {
	URL           string
	APIKey        string        // Sent as a bearer token when non-empty.
	QueueSize     int           // Pending notification cap; <= 0 selects 128.
	SendTimeout   time.Duration // Per-request timeout; <= 0 selects 5s.
	MaxRetries    uint64        // Delivery attempts beyond the first; 0 selects 3.
	RetryInterval time.Duration // Constant backoff between attempts; <= 0 selects 1s.
}

// WebhookNotifier posts notifications as JSON to an HTTP endpoint. Delivery
// happens on a background loop so that Notify never blocks the logging call
// path; a full queue drops the notification and reports it as an error.
type WebhookNotifier struct {
	opts       WebhookOptions
	instanceID string
	client     *http.Client
	queue      chan notification
	done       chan struct{}
	wg         sync.WaitGroup
}

type notification struct {
	Message    string    `json:"message"`
	InstanceID string    `json:"instance_id"`
	SentAt     time.Time `json:"sent_at"`
}

// NewWebhookNotifier creates a WebhookNotifier and starts its delivery loop.
// Call Close to flush pending notifications on shutdown.
func NewWebhookNotifier(opts WebhookOptions) *WebhookNotifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}

	n := &WebhookNotifier{
		opts:       opts,
		instanceID: uuid.New().String(),
		client:     &http.Client{Timeout: opts.SendTimeout},
		queue:      make(chan notification, opts.QueueSize),
		done:       make(chan struct{}),
	}
	n.wg.Add(1)
	go n.runLoop()

	return n
}

// InstanceID returns the per-process id sent along with every notification.
func (n *WebhookNotifier) InstanceID() string {
	return n.instanceID
}

// Notify enqueues msg for delivery.
func (n *WebhookNotifier) Notify(msg string) error {
	select {
	case n.queue <- notification{Message: msg, InstanceID: n.instanceID, SentAt: time.Now()}:
		return nil
	case <-n.done:
		return fmt.Errorf("notifier closed: dropping %q", msg)
	default:
		return fmt.Errorf("notification queue full: dropping %q", msg)
	}
}

// Close stops the delivery loop after draining the queue.
func (n *WebhookNotifier) Close() {
	close(n.done)
	n.wg.Wait()
}

func (n *WebhookNotifier) runLoop() {
	defer n.wg.Done()

	for {
		select {
		case note := <-n.queue:
			n.send(note)
		case <-n.done:
			// Flush remaining notifications before shutting down.
			for {
				select {
				case note := <-n.queue:
					n.send(note)
				default:
					return
				}
			}
		}
	}
}

// send delivers one notification, retrying transient failures with a constant
// backoff. Responses with a 4xx status are not retried.
func (n *WebhookNotifier) send(note notification) {
	data, err := json.Marshal(note)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sloggate: webhook notification dropped: %v\n", err)
		return
	}

	op := func() error {
		req, err := http.NewRequest(http.MethodPost, n.opts.URL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Instance-ID", n.instanceID)
		if n.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+n.opts.APIKey)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("notification rejected: HTTP %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("notification failed: HTTP %d", resp.StatusCode)
		}
		return nil
	}

	err = backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(n.opts.RetryInterval), n.opts.MaxRetries))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sloggate: webhook notification dropped: %v\n", err)
	}
}
