// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/tablestakes/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for session action logs.
const DefaultQueueName = "trivia_actions"

// DefaultResultsTTL is how long finished results stay readable in Redis.
const DefaultResultsTTL = 24 * time.Hour

const resultsKeyPrefix = "trivia:results:"

// ActionRecord holds the minimal info needed by the historian.
type ActionRecord struct {
	SessionID     string                 `json:"session_id"`
	RoomCode      string                 `json:"room_code"`
	ActionIndex   int                    `json:"action_index"`
	ActorID       string                 `json:"actor_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}

// FinishedSession is what gets cached once a session ends.
type FinishedSession struct {
	Session models.GameSession  `json:"session"`
	Results []models.GameResult `json:"results"`
}

// Client wraps a Redis connection with the queue and key layout used by the
// server and the historian.
type Client struct {
	Rdb        *redis.Client
	QueueName  string
	ResultsTTL time.Duration
}

// Connect dials Redis at addr and verifies the connection with a PING.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// New builds a Client. Empty queue names and non-positive TTLs fall back to
// the defaults.
func New(rdb *redis.Client, queueName string, resultsTTL time.Duration) *Client {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if resultsTTL <= 0 {
		resultsTTL = DefaultResultsTTL
	}
	return &Client{Rdb: rdb, QueueName: queueName, ResultsTTL: resultsTTL}
}

// PublishAction serializes the record to JSON, then pushes it to the queue.
func (c *Client) PublishAction(ctx context.Context, record ActionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := c.Rdb.RPush(ctx, c.QueueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", c.QueueName, err)
	}
	return nil
}

// StoreResults caches a finished session under its room code for ResultsTTL.
// Room codes are reused, so a later session with the same code overwrites
// the entry.
func (c *Client) StoreResults(ctx context.Context, fs FinishedSession) error {
	data, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("failed to marshal results for room %s: %w", fs.Session.RoomCode, err)
	}
	if err := c.Rdb.Set(ctx, resultsKeyPrefix+fs.Session.RoomCode, data, c.ResultsTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache results for room %s: %w", fs.Session.RoomCode, err)
	}
	return nil
}

// LoadResults returns the cached results for roomCode. The bool is false when
// nothing is cached.
func (c *Client) LoadResults(ctx context.Context, roomCode string) (FinishedSession, bool, error) {
	var fs FinishedSession
	data, err := c.Rdb.Get(ctx, resultsKeyPrefix+roomCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return fs, false, nil
	}
	if err != nil {
		return fs, false, fmt.Errorf("failed to read cached results for room %s: %w", roomCode, err)
	}
	if err := json.Unmarshal(data, &fs); err != nil {
		return fs, false, fmt.Errorf("failed to decode cached results for room %s: %w", roomCode, err)
	}
	return fs, true, nil
}
