// internal/historian/historian_test.go
package historian

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
	mu       sync.Mutex
	inserted []cache.ActionRecord
}

func (m *mockSink) InsertActions(ctx context.Context, records []cache.ActionRecord) error {
	args := m.Called(ctx, records)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.inserted = append(m.inserted, records...)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockSink) MarkSessionAbandoned(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

func newRedis(t *testing.T) (*redis.Client, *cache.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, cache.New(rdb, "", 0)
}

func TestHistorianDrainsQueueInBatches(t *testing.T) {
	rdb, publisher := newRedis(t)
	sink := &mockSink{}
	sink.On("InsertActions", mock.Anything, mock.Anything).Return(nil)

	svc := New(rdb, sink, Config{BatchSize: 3, FlushDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	for i := 1; i <= 7; i++ {
		require.NoError(t, publisher.PublishAction(context.Background(), cache.ActionRecord{
			SessionID: "s1", RoomCode: "123456", ActionIndex: i, ActionType: "answer_submit",
		}))
	}

	assert.Eventually(t, func() bool { return sink.count() == 7 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, rec := range sink.inserted {
		assert.Equal(t, i+1, rec.ActionIndex, "queue order is preserved")
	}
}

func TestFailedFlushIsRetried(t *testing.T) {
	rdb, _ := newRedis(t)
	sink := &mockSink{}
	sink.On("InsertActions", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	sink.On("InsertActions", mock.Anything, mock.Anything).Return(nil)

	svc := New(rdb, sink, Config{BatchSize: 10})
	ctx := context.Background()
	svc.append(ctx, cache.ActionRecord{SessionID: "s1", ActionIndex: 1})
	svc.flush(ctx)
	assert.Zero(t, sink.count())

	svc.append(ctx, cache.ActionRecord{SessionID: "s1", ActionIndex: 2})
	svc.flush(ctx)
	assert.Equal(t, 2, sink.count())
	sink.AssertNumberOfCalls(t, "InsertActions", 2)
}

func TestSweepMarksQuietSessionsAbandoned(t *testing.T) {
	rdb, _ := newRedis(t)
	sink := &mockSink{}
	sink.On("MarkSessionAbandoned", mock.Anything, "quiet").Return(true, nil).Once()

	svc := New(rdb, sink, Config{Inactivity: time.Minute})
	now := time.Now()
	svc.observe(cache.ActionRecord{SessionID: "quiet", ActionType: "question_start"})
	svc.observe(cache.ActionRecord{SessionID: "done", ActionType: "question_start"})
	svc.observe(cache.ActionRecord{SessionID: "done", ActionType: "game_finish"})

	svc.sweep(context.Background(), now.Add(30*time.Second))
	sink.AssertNotCalled(t, "MarkSessionAbandoned", mock.Anything, mock.Anything)

	svc.sweep(context.Background(), now.Add(2*time.Minute))
	sink.AssertExpectations(t)

	// Already handled sessions are forgotten.
	svc.sweep(context.Background(), now.Add(5*time.Minute))
	sink.AssertNumberOfCalls(t, "MarkSessionAbandoned", 1)
}
