package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	suffixStatus      = ":status"
	suffixInputBuffer = ":input_buffer"
	suffixTurnQueue   = ":income_messages"
	suffixLastActive  = ":last_activity"
	suffixErrors      = ":errors"

	outboundQueueKey = "global_outcome_queue"

	scanBatch = 100

	// statusRetries bounds optimistic-lock retries on the status key.
	statusRetries = 3
)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("connected to redis", slog.String("addr", opts.Addr))
	return &RedisStore{client: client, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SessionExists(ctx context.Context, sessionKey string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey+suffixStatus).Result()
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", sessionKey, err)
	}
	return n != 0, nil
}

// SetStatus validates the lifecycle transition against the current status
// and writes the new one. The read and the write run under WATCH on the
// status key, so a concurrent writer cannot slip a non-terminal state over
// conversation_ended between the check and the set.
func (s *RedisStore) SetStatus(ctx context.Context, sessionKey string, status ChatState) error {
	if !status.Valid() {
		return fmt.Errorf("unknown chat state %q", status)
	}

	key := sessionKey + suffixStatus
	txf := func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get status for %s: %w", sessionKey, err)
		}
		if err == nil {
			if terr := CheckTransition(ChatState(v), status); terr != nil {
				return fmt.Errorf("session %s: %w", sessionKey, terr)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(status), 0)
			pipe.Set(ctx, sessionKey+suffixLastActive, strconv.FormatInt(time.Now().Unix(), 10), 0)
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("set status for %s: %w", sessionKey, err)
		}
		return err
	}

	var err error
	for i := 0; i < statusRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("set status for %s: %w", sessionKey, err)
}

func (s *RedisStore) Status(ctx context.Context, sessionKey string) (ChatState, error) {
	v, err := s.client.Get(ctx, sessionKey+suffixStatus).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get status for %s: %w", sessionKey, err)
	}

	state := ChatState(v)
	if !state.Valid() {
		return "", fmt.Errorf("session %s has unknown stored state %q", sessionKey, v)
	}
	return state, nil
}

func (s *RedisStore) AppendInput(ctx context.Context, sessionKey, text string) error {
	if err := s.client.RPush(ctx, sessionKey+suffixInputBuffer, text).Err(); err != nil {
		return fmt.Errorf("append input for %s: %w", sessionKey, err)
	}
	return s.touch(ctx, sessionKey)
}

func (s *RedisStore) DrainInput(ctx context.Context, sessionKey string) ([]string, error) {
	key := sessionKey + suffixInputBuffer

	var entries *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		entries = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain input for %s: %w", sessionKey, err)
	}

	vals := entries.Val()
	if len(vals) == 0 {
		return nil, nil
	}
	if err := s.touch(ctx, sessionKey); err != nil {
		return nil, err
	}
	return vals, nil
}

func (s *RedisStore) EnqueueTurn(ctx context.Context, sessionKey string, payload TurnPayload) error {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal turn payload: %w", err)
	}
	if err := s.client.RPush(ctx, sessionKey+suffixTurnQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue turn for %s: %w", sessionKey, err)
	}
	return s.touch(ctx, sessionKey)
}

func (s *RedisStore) BlockingDequeueTurn(ctx context.Context, sessionKey string, timeout time.Duration) (TurnPayload, error) {
	raw, err := s.blpop(ctx, sessionKey+suffixTurnQueue, timeout)
	if err != nil {
		return TurnPayload{}, err
	}

	var payload TurnPayload
	if err := sonic.Unmarshal([]byte(raw), &payload); err != nil {
		return TurnPayload{}, &PayloadError{Raw: raw, Err: err}
	}
	return payload, nil
}

func (s *RedisStore) EnqueueOutbound(ctx context.Context, msg OutboundMessage) error {
	raw, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	if err := s.client.RPush(ctx, outboundQueueKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue outbound: %w", err)
	}
	return nil
}

func (s *RedisStore) BlockingDequeueOutbound(ctx context.Context, timeout time.Duration) (OutboundMessage, error) {
	raw, err := s.blpop(ctx, outboundQueueKey, timeout)
	if err != nil {
		return OutboundMessage{}, err
	}

	var msg OutboundMessage
	if err := sonic.Unmarshal([]byte(raw), &msg); err != nil {
		return OutboundMessage{}, &PayloadError{Raw: raw, Err: err}
	}
	return msg, nil
}

func (s *RedisStore) RecordError(ctx context.Context, sessionKey, message string) error {
	if err := s.client.RPush(ctx, sessionKey+suffixErrors, message).Err(); err != nil {
		return fmt.Errorf("record error for %s: %w", sessionKey, err)
	}
	return s.touch(ctx, sessionKey)
}

func (s *RedisStore) EndSession(ctx context.Context, sessionKey string) error {
	if err := s.SetStatus(ctx, sessionKey, StateConversationEnded); err != nil {
		return err
	}
	if err := s.client.Del(ctx, sessionKey+suffixTurnQueue, sessionKey+suffixInputBuffer).Err(); err != nil {
		return fmt.Errorf("clear queues for %s: %w", sessionKey, err)
	}
	s.logger.Info("session ended", slog.String("session", sessionKey))
	return nil
}

func (s *RedisStore) SessionKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, "chat:*"+suffixStatus, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan session keys: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimSuffix(k, suffixStatus))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *RedisStore) LastActivity(ctx context.Context, sessionKey string) (time.Time, error) {
	v, err := s.client.Get(ctx, sessionKey+suffixLastActive).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last activity for %s: %w", sessionKey, err)
	}

	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last activity for %s: %w", sessionKey, err)
	}
	return time.Unix(secs, 0), nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionKey string) error {
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, sessionKey+":*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan keys for %s: %w", sessionKey, err)
		}
		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete keys for %s: %w", sessionKey, err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.logger.Debug("session deleted", slog.String("session", sessionKey))
	return nil
}

// blpop wraps BLPOP, mapping the no-data case to ErrNoData.
func (s *RedisStore) blpop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	res, err := s.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoData
	}
	if err != nil {
		return "", fmt.Errorf("blocking dequeue from %s: %w", key, err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("blocking dequeue from %s: unexpected reply length %d", key, len(res))
	}
	return res[1], nil
}

func (s *RedisStore) touch(ctx context.Context, sessionKey string) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := s.client.Set(ctx, sessionKey+suffixLastActive, now, 0).Err(); err != nil {
		return fmt.Errorf("refresh last activity for %s: %w", sessionKey, err)
	}
	return nil
}
