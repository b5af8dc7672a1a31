package notifyqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"banknotify/internal/config"
	"banknotify/internal/domain"
	"banknotify/internal/permanent"
	"banknotify/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	testQueueSubject = "banknotify.test.notify"
	testQueueDLQ     = "banknotify.test.notify.dlq"
)

func newTestQueueConfig(natsURL string, maxDeliver int) config.NotifyQueue {
	return config.NotifyQueue{
		Enabled:       true,
		URL:           []string{natsURL},
		Subject:       testQueueSubject,
		Stream:        "BANKNOTIFY_TEST_NOTIFY",
		ConsumerName:  "banknotify-test-notify",
		DeliverGroup:  "banknotify-test-notifiers",
		AckWaitSec:    2,
		NackDelayMS:   10,
		MaxDeliver:    maxDeliver,
		MaxAckPending: 128,
		DLQSubject:    testQueueDLQ,
		DLQStream:     "BANKNOTIFY_TEST_NOTIFY_DLQ",
	}
}

func waitForCallsAtLeast(t *testing.T, timeout time.Duration, counter *int32, min int32) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if atomic.LoadInt32(counter) >= min {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected calls >= %d, got %d", min, atomic.LoadInt32(counter))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sampleNotification() domain.Notification {
	return domain.Notification{
		ID:        "n-1",
		RunID:     "run-1",
		Class:     "BalanceLower",
		Title:     "1 account below threshold",
		Message:   "Checking: 42.00 EUR (threshold 100.00 EUR)",
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

type recordingProducer struct {
	mu   sync.Mutex
	jobs []Job
	fail map[string]error
}

func (p *recordingProducer) Enqueue(_ context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[job.Channel]; err != nil {
		return err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestBuildJobIDDeterministic(t *testing.T) {
	t.Parallel()

	idA := BuildJobID("telegram", sampleNotification())
	idB := BuildJobID("telegram", sampleNotification())
	if idA == "" {
		t.Fatalf("expected non-empty job id")
	}
	if idA != idB {
		t.Fatalf("expected deterministic ids: %q != %q", idA, idB)
	}
	if idA == BuildJobID("http", sampleNotification()) {
		t.Fatalf("job id must depend on channel")
	}
}

func TestTransmitterEnqueuesOneJobPerChannel(t *testing.T) {
	t.Parallel()

	producer := &recordingProducer{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	transmitter := NewTransmitter(producer, []string{"telegram", "mattermost"}, func() time.Time { return now })

	if err := transmitter.Transmit(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if len(producer.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(producer.jobs))
	}
	for i, channel := range []string{"telegram", "mattermost"} {
		job := producer.jobs[i]
		if job.Channel != channel || job.ID != BuildJobID(channel, sampleNotification()) || !job.CreatedAt.Equal(now) {
			t.Fatalf("unexpected job %d: %+v", i, job)
		}
	}
}

func TestTransmitterJoinsEnqueueErrors(t *testing.T) {
	t.Parallel()

	producer := &recordingProducer{fail: map[string]error{"http": errors.New("nats down")}}
	transmitter := NewTransmitter(producer, []string{"http", "telegram"}, nil)

	err := transmitter.Transmit(context.Background(), sampleNotification())
	if err == nil {
		t.Fatalf("expected enqueue error")
	}
	if len(producer.jobs) != 1 || producer.jobs[0].Channel != "telegram" {
		t.Fatalf("remaining channels must still be enqueued: %+v", producer.jobs)
	}

	if err := NewTransmitter(producer, nil, nil).Transmit(context.Background(), sampleNotification()); err == nil {
		t.Fatalf("expected error without channels")
	}
}

func TestNATSProducerWorkerRedelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}
	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	cfg := newTestQueueConfig(natsURL, 3)

	producer, err := NewNATSProducer(cfg)
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer func() { _ = producer.Close() }()

	var (
		mu       sync.Mutex
		attempts = map[string]int{}
		doneCh   = make(chan struct{}, 1)
	)
	worker, err := NewNATSWorker(cfg, nil, func(_ context.Context, job Job) error {
		mu.Lock()
		attempts[job.ID]++
		current := attempts[job.ID]
		mu.Unlock()
		if current == 1 {
			return context.DeadlineExceeded
		}
		select {
		case doneCh <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	defer func() { _ = worker.Close() }()

	transmitter := NewTransmitter(producer, []string{"telegram"}, nil)
	if err := transmitter.Transmit(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for redelivery success")
	}

	mu.Lock()
	gotAttempts := attempts[BuildJobID("telegram", sampleNotification())]
	mu.Unlock()
	if gotAttempts < 2 {
		t.Fatalf("expected at least 2 attempts due redelivery, got %d", gotAttempts)
	}
}

func subscribeDLQ(t *testing.T, natsURL string) (*nats.Conn, *nats.Subscription) {
	t.Helper()
	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	sub, err := nc.SubscribeSync(testQueueDLQ)
	if err != nil {
		nc.Close()
		t.Fatalf("subscribe dlq: %v", err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		t.Fatalf("flush subscribe: %v", err)
	}
	return nc, sub
}

func TestNATSWorkerPublishesPermanentErrorToDLQ(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}
	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	cfg := newTestQueueConfig(natsURL, 3)
	cfg.DLQ = true

	producer, err := NewNATSProducer(cfg)
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer func() { _ = producer.Close() }()

	var calls int32
	worker, err := NewNATSWorker(cfg, nil, func(_ context.Context, _ Job) error {
		atomic.AddInt32(&calls, 1)
		return permanent.Mark(errors.New("template missing"))
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	defer func() { _ = worker.Close() }()

	nc, sub := subscribeDLQ(t, natsURL)
	defer nc.Close()

	job := Job{
		ID:           BuildJobID("telegram", sampleNotification()),
		Channel:      "telegram",
		Notification: sampleNotification(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := producer.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	message, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("wait dlq message: %v", err)
	}
	var entry DLQEntry
	if err := json.Unmarshal(message.Data, &entry); err != nil {
		t.Fatalf("decode dlq entry: %v", err)
	}
	if entry.Reason != DLQReasonPermanentError {
		t.Fatalf("unexpected dlq reason: %s", entry.Reason)
	}
	if entry.Job.ID != job.ID || entry.Job.Notification.Class != "BalanceLower" {
		t.Fatalf("unexpected dlq job: %+v", entry.Job)
	}
	if entry.Attempts != 1 {
		t.Fatalf("unexpected attempts: %d", entry.Attempts)
	}

	waitForCallsAtLeast(t, time.Second, &calls, 1)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected single handler call, got %d", got)
	}
}

func TestNATSWorkerPublishesMaxDeliverToDLQ(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}
	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	cfg := newTestQueueConfig(natsURL, 2)
	cfg.AckWaitSec = 1
	cfg.DLQ = true

	producer, err := NewNATSProducer(cfg)
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer func() { _ = producer.Close() }()

	var calls int32
	worker, err := NewNATSWorker(cfg, nil, func(_ context.Context, _ Job) error {
		atomic.AddInt32(&calls, 1)
		return context.DeadlineExceeded
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	defer func() { _ = worker.Close() }()

	nc, sub := subscribeDLQ(t, natsURL)
	defer nc.Close()

	job := Job{
		ID:           BuildJobID("mattermost", sampleNotification()),
		Channel:      "mattermost",
		Notification: sampleNotification(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := producer.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	message, err := sub.NextMsg(8 * time.Second)
	if err != nil {
		t.Fatalf("wait dlq message: %v", err)
	}
	var entry DLQEntry
	if err := json.Unmarshal(message.Data, &entry); err != nil {
		t.Fatalf("decode dlq entry: %v", err)
	}
	if entry.Reason != DLQReasonMaxDeliverExceeded {
		t.Fatalf("unexpected dlq reason: %s", entry.Reason)
	}
	if entry.Job.ID != job.ID {
		t.Fatalf("unexpected dlq job id: %s", entry.Job.ID)
	}
	if entry.Attempts < 2 {
		t.Fatalf("expected attempts>=2, got %d", entry.Attempts)
	}
	waitForCallsAtLeast(t, time.Second, &calls, 2)
}
