package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	auditBuffer       = 256
	auditWriteTimeout = 5 * time.Second
)

// Recorder persists completions for later inspection.
type Recorder interface {
	InsertNotification(ctx context.Context, n Notification) error
}

// AuditNotifier hands completions to a Recorder on a background goroutine so
// slow storage never stalls the billing client.
type AuditNotifier struct {
	recorder Recorder
	queue    chan Notification
	done     chan struct{}
	closeMu  sync.RWMutex
	closed   bool
	dropped  atomic.Uint64
}

// NewAuditNotifier starts the background writer.
func NewAuditNotifier(recorder Recorder) *AuditNotifier {
	a := &AuditNotifier{
		recorder: recorder,
		queue:    make(chan Notification, auditBuffer),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues the completion. When the queue is full the completion is dropped from the audit log.
func (a *AuditNotifier) Notify(n Notification) {
	a.closeMu.RLock()
	defer a.closeMu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- n:
	default:
		a.dropped.Add(1)
		log.Warn().Str("component", "audit").Int("callback_id", n.CallbackID).Msg("Audit queue full, dropping notification")
	}
}

// Dropped returns how many completions were not recorded.
func (a *AuditNotifier) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *AuditNotifier) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := a.recorder.InsertNotification(ctx, n); err != nil {
			log.Error().Err(err).Str("component", "audit").Int("callback_id", n.CallbackID).Msg("Failed to record notification")
		}
		cancel()
	}
}

// Close stops intake and waits until queued completions are written.
func (a *AuditNotifier) Close() {
	a.closeMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.closeMu.Unlock()
	<-a.done
}
