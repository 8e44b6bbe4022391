// internal/historian/historian.go pops session actions from the Redis queue
// and persists them to PostgreSQL in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/database"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// popTimeout is the BLPop block time. Redis only accepts whole seconds here.
const popTimeout = time.Second

// Sink is where flushed batches go.
type Sink interface {
	InsertActions(ctx context.Context, records []cache.ActionRecord) error
	MarkSessionAbandoned(ctx context.Context, sessionID string) (bool, error)
}

// PostgresSink writes to the history tables.
type PostgresSink struct {
	Pool *pgxpool.Pool
}

func (s PostgresSink) InsertActions(ctx context.Context, records []cache.ActionRecord) error {
	return database.InsertActions(ctx, s.Pool, records)
}

func (s PostgresSink) MarkSessionAbandoned(ctx context.Context, sessionID string) (bool, error) {
	return database.MarkSessionAbandoned(ctx, s.Pool, sessionID)
}

// Config tunes batching and the inactivity sweep.
type Config struct {
	QueueName     string
	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration // silence after which an unfinished session is abandoned
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueName == "" {
		c.QueueName = cache.DefaultQueueName
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = 500 * time.Millisecond
	}
	if c.Inactivity <= 0 {
		c.Inactivity = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

// Service encapsulates the Redis + DB logic for capturing session actions and
// marking sessions abandoned when they go quiet.
type Service struct {
	rdb  *redis.Client
	sink Sink
	cfg  Config

	lastActivity sync.Map // session id -> time.Time

	batchMu sync.Mutex
	batch   []cache.ActionRecord
}

func New(rdb *redis.Client, sink Sink, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		rdb:   rdb,
		sink:  sink,
		cfg:   cfg,
		batch: make([]cache.ActionRecord, 0, cfg.BatchSize),
	}
}

// Run blocks until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.inactivityLoop(ctx)
	}()

	log.WithField("queue", s.cfg.QueueName).Info("historian started")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(flushCtx)
	log.Info("historian stopped")
}

// readLoop pops records with a short BLPop timeout so the periodic flush and
// cancellation are both noticed within about a second.
func (s *Service) readLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx)
		default:
			res, err := s.rdb.BLPop(ctx, popTimeout, s.cfg.QueueName).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					log.WithError(err).Error("historian: BLPop failed")
					time.Sleep(s.cfg.FlushDelay)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.ActionRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.WithError(err).Warn("historian: invalid action record")
				continue
			}
			s.observe(record)
			s.append(ctx, record)
		}
	}
}

func (s *Service) observe(record cache.ActionRecord) {
	if record.ActionType == database.FinishActionType {
		s.lastActivity.Delete(record.SessionID)
		return
	}
	s.lastActivity.Store(record.SessionID, time.Now())
}

// append adds a record to the batch and flushes once the batch is full.
func (s *Service) append(ctx context.Context, record cache.ActionRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, record)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		s.flush(ctx)
	}
}

// flush writes the current batch in a single transaction. A failed batch is
// put back in front of newer records and retried on the next flush.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.batch) == 0 {
		return
	}
	batchCopy := make([]cache.ActionRecord, len(s.batch))
	copy(batchCopy, s.batch)

	if err := s.sink.InsertActions(ctx, batchCopy); err != nil {
		log.WithError(err).WithField("size", len(batchCopy)).Error("historian: flush failed")
		return
	}
	s.batch = s.batch[:0]
	log.WithField("size", len(batchCopy)).Debug("historian: flushed actions")
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now())
		}
	}
}

// sweep marks sessions silent for longer than the inactivity window as
// abandoned.
func (s *Service) sweep(ctx context.Context, now time.Time) {
	s.lastActivity.Range(func(key, val interface{}) bool {
		sessionID, ok1 := key.(string)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.cfg.Inactivity {
			return true
		}
		// Pending actions must land before the session row can be updated.
		s.flush(ctx)
		marked, err := s.sink.MarkSessionAbandoned(ctx, sessionID)
		if err != nil {
			log.WithError(err).WithField("session", sessionID).Warn("historian: failed to mark session abandoned")
			return true
		}
		if marked {
			log.WithField("session", sessionID).Info("historian: marked session abandoned")
		}
		s.lastActivity.Delete(sessionID)
		return true
	})
}
