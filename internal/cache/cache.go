// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rdb is the shared Redis client. Nil when Redis is not configured; every
// caller checks before use so the engine runs fine without it.
var Rdb *redis.Client

// Init connects the shared client and verifies the connection.
func Init(ctx context.Context, addr, password string) error {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	Rdb = client
	logrus.WithField("addr", addr).Info("redis connected")
	return nil
}

// GameActionRecord is one entry of the per-round action log, consumed by
// the historian stream.
type GameActionRecord struct {
	Game        string                 `json:"game"`
	RoundID     uuid.UUID              `json:"roundId"`
	ActionIndex int                    `json:"actionIndex"`
	UserAddress string                 `json:"userAddress,omitempty"`
	ActionType  string                 `json:"actionType"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   int64                  `json:"timestamp"`
}

const actionStream = "casino:actions"

// PublishGameAction appends a record to the action stream.
func PublishGameAction(ctx context.Context, rec GameActionRecord) error {
	if Rdb == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: actionStream,
		Values: map[string]interface{}{"record": raw},
	}).Err()
}

// PushHistory mirrors a resolved-round entry into a capped Redis list,
// most-recent-first, so restarts do not lose the history feed.
func PushHistory(ctx context.Context, game string, entry interface{}, max int64) error {
	if Rdb == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := "casino:history:" + game
	pipe := Rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, max-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentHistory reads back up to max entries for a game, most-recent-first.
func RecentHistory(ctx context.Context, game string, max int64) ([][]byte, error) {
	if Rdb == nil {
		return nil, nil
	}
	vals, err := Rdb.LRange(ctx, "casino:history:"+game, 0, max-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// LogAction publishes asynchronously with a short timeout, the way the
// schedulers call it from inside their critical sections.
func LogAction(rec GameActionRecord) {
	if Rdb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := PublishGameAction(ctx, rec); err != nil {
			logrus.WithError(err).Warn("failed publishing game action")
		}
	}()
}
