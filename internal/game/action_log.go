// internal/game/action_log.go
package game

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/tablestakes/internal/cache"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// actionLog hands logged actions to the publisher on a single goroutine, in
// the order they were appended. Appending never blocks the caller.
type actionLog struct {
	pub ActionPublisher

	mu      sync.Mutex
	pending []cache.ActionRecord
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newActionLog(pub ActionPublisher) *actionLog {
	l := &actionLog{
		pub:  pub,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *actionLog) append(rec cache.ActionRecord) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		log.WithFields(log.Fields{"room": rec.RoomCode, "action": rec.ActionType}).Warn("action log closed, dropping action")
		return
	}
	l.pending = append(l.pending, rec)
	l.mu.Unlock()
	l.signal()
}

// close publishes what is still pending and stops the worker.
func (l *actionLog) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}

func (l *actionLog) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *actionLog) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-l.wake
			continue
		}
		for _, rec := range batch {
			l.publish(rec)
		}
	}
}

func (l *actionLog) publish(rec cache.ActionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := l.pub.PublishAction(ctx, rec); err != nil {
		log.WithError(err).WithFields(log.Fields{"room": rec.RoomCode, "action": rec.ActionIndex}).Warn("failed to publish session action")
	}
}
