package notifyqueue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"banknotify/internal/domain"
	"banknotify/internal/permanent"
)

// Job is one outbound notification task in async delivery queue.
// Params: destination channel and built notification payload.
// Returns: queue unit consumed by delivery workers.
type Job struct {
	ID           string              `json:"id"`
	Channel      string              `json:"channel"`
	Notification domain.Notification `json:"notification"`
	CreatedAt    time.Time           `json:"created_at"`
}

// DLQReason identifies reason why notify job was moved to dead-letter queue.
// Params: categorized failure reason.
// Returns: machine-readable DLQ classification.
type DLQReason string

const (
	// DLQReasonPermanentError marks non-retryable processing failures.
	DLQReasonPermanentError DLQReason = "permanent_error"
	// DLQReasonMaxDeliverExceeded marks retries exhausted by queue max deliver policy.
	DLQReasonMaxDeliverExceeded DLQReason = "max_deliver_exceeded"
)

// DLQEntry is dead-letter payload for notify queue failures.
// Params: original job, failure metadata, and delivery counters.
// Returns: persisted DLQ record.
type DLQEntry struct {
	Job           Job       `json:"job"`
	Reason        DLQReason `json:"reason"`
	Error         string    `json:"error"`
	Attempts      uint64    `json:"attempts"`
	MaxDeliver    int       `json:"max_deliver"`
	Subject       string    `json:"subject"`
	FailedAt      time.Time `json:"failed_at"`
	OriginalMsgID string    `json:"original_msg_id,omitempty"`
}

// BuildJobID creates deterministic id for one notification queue task.
// Params: channel and notification payload.
// Returns: stable SHA1-based id string.
func BuildJobID(channel string, notification domain.Notification) string {
	raw := fmt.Sprintf(
		"%s|%s|%s|%s|%s|%d",
		channel,
		notification.ID,
		notification.Class,
		notification.Title,
		notification.Message,
		notification.Timestamp.UnixNano(),
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Producer enqueues notification delivery jobs.
// Params: context and queue job payload.
// Returns: enqueue error.
type Producer interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

// IsPermanent reports whether error is marked as non-retryable.
// Params: processing error.
// Returns: true when worker must not retry.
func IsPermanent(err error) bool {
	return permanent.Is(err)
}

// Transmitter turns one built notification into one queued job per channel.
// Params: producer, enabled channel list, and clock.
// Returns: asynchronous delivery front used by the dispatcher.
type Transmitter struct {
	producer Producer
	channels []string
	now      func() time.Time
}

// NewTransmitter creates queue-backed notification transmitter.
// Params: producer, channel keys, and optional clock.
// Returns: transmitter enqueuing per-channel jobs.
func NewTransmitter(producer Producer, channels []string, now func() time.Time) *Transmitter {
	if now == nil {
		now = time.Now
	}
	return &Transmitter{producer: producer, channels: channels, now: now}
}

// Transmit enqueues one job per configured channel.
// Params: context and notification payload.
// Returns: joined enqueue errors.
func (t *Transmitter) Transmit(ctx context.Context, notification domain.Notification) error {
	if len(t.channels) == 0 {
		return errors.New("no notify channels are enabled")
	}
	var errs []error
	for _, channel := range t.channels {
		job := Job{
			ID:           BuildJobID(channel, notification),
			Channel:      channel,
			Notification: notification,
			CreatedAt:    t.now().UTC(),
		}
		if err := t.producer.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s job: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// Worker consumes queued jobs and acknowledges delivery status.
// Params: close hook for shutdown lifecycle.
// Returns: queue worker lifecycle.
type Worker interface {
	Close() error
}

// errorString returns safe textual representation for optional error value.
// Params: optional error.
// Returns: non-empty error string.
func errorString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}
