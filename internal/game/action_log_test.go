package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowPublisher stalls on its first call so later appends pile up behind it.
type slowPublisher struct {
	mu      sync.Mutex
	indices []int
	release chan struct{}
	once    sync.Once
}

func (p *slowPublisher) PublishAction(_ context.Context, rec cache.ActionRecord) error {
	p.once.Do(func() { <-p.release })
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indices = append(p.indices, rec.ActionIndex)
	return nil
}

func TestActionLogPublishesInAppendOrder(t *testing.T) {
	pub := &slowPublisher{release: make(chan struct{})}
	l := newActionLog(pub)

	for i := 1; i <= 50; i++ {
		l.append(cache.ActionRecord{SessionID: "s1", ActionIndex: i})
	}
	time.AfterFunc(20*time.Millisecond, func() { close(pub.release) })
	l.close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.indices, 50, "close drains what is pending")
	for i, idx := range pub.indices {
		assert.Equal(t, i+1, idx)
	}
}

func TestActionLogDropsAfterClose(t *testing.T) {
	pub := &recordingPublisher{}
	l := newActionLog(pub)
	l.append(cache.ActionRecord{ActionIndex: 1})
	l.close()
	l.append(cache.ActionRecord{ActionIndex: 2})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.records, 1)
	assert.Equal(t, 1, pub.records[0].ActionIndex)
}
