// README: Async notification dispatcher; booking mutations never wait on delivery.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bidride/internal/logging"
	"bidride/internal/observability"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	sendTimeout      = 5 * time.Second
)

// ErrNoDevice is returned by senders that cannot address a recipient.
var ErrNoDevice = errors.New("recipient has no registered device")

// Dispatcher fans intents out to a Sender from a bounded queue. Dispatch never
// blocks: when the queue is full the intent is dropped and counted.
type Dispatcher struct {
	sender  Sender
	queue   chan Intent
	workers int
	log     *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(sender Sender, workers, queueSize int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Intent, queueSize),
		workers: workers,
		log:     log.With("component", "notify"),
	}
}

// Start launches the workers. They exit once Close has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for in := range d.queue {
				d.deliver(ctx, in)
			}
		}()
	}
}

func (d *Dispatcher) Dispatch(in Intent) {
	if len(in.Recipients) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification after shutdown dropped", "kind", in.Kind)
		return
	}
	select {
	case d.queue <- in:
		observability.NotificationQueueDepth.Inc()
	default:
		observability.NotificationsTotal.WithLabelValues(string(in.Kind), "dropped").Add(float64(len(in.Recipients)))
		d.log.Warn("notification queue full, intent dropped", "kind", in.Kind, "recipients", len(in.Recipients))
	}
}

// Close stops accepting intents and waits for queued ones to be delivered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, in Intent) {
	observability.NotificationQueueDepth.Dec()
	data := make(map[string]string, len(in.Data)+1)
	for k, v := range in.Data {
		data[k] = v
	}
	data["kind"] = string(in.Kind)

	for _, recipient := range in.Recipients {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		err := d.sender.Send(sendCtx, recipient, in.Title, in.Body, data)
		cancel()
		switch {
		case err == nil:
			observability.NotificationsTotal.WithLabelValues(string(in.Kind), "sent").Inc()
		case errors.Is(err, ErrNoDevice):
			observability.NotificationsTotal.WithLabelValues(string(in.Kind), "skipped").Inc()
			d.log.Debug("notification skipped", "kind", in.Kind, "recipient", recipient)
		default:
			observability.NotificationsTotal.WithLabelValues(string(in.Kind), "failed").Inc()
			d.log.Warn("notification failed", "kind", in.Kind, "recipient", recipient, "err", err)
		}
	}
}
