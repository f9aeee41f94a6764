package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/model"
)

// DefaultRedisPrefix namespaces every key the store writes.
const DefaultRedisPrefix = "water-order-bot:"

// Each order is a hash at <prefix>order:<tracking id>. The sorted set at
// <prefix>orders indexes tracking ids by SentAt in unix milliseconds.
const (
	fieldPartitionKey   = "partition_key"
	fieldChatID         = "chat_id"
	fieldUserID         = "user_id"
	fieldMessageID      = "message_id"
	fieldEmailSentTo    = "email_sent_to"
	fieldEmailSubject   = "email_subject"
	fieldSentAt         = "sent_at"
	fieldEmailMessageID = "email_message_id"
	fieldLastReminderAt = "last_reminder_at"
)

// setIfExists writes one hash field only when the hash is still present, so
// a reminder update racing a completion cannot resurrect the order.
var setIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// RedisStore persists orders in Redis.
type RedisStore struct {
	c        *redis.Client
	prefix   string
	log      logrus.FieldLogger
	opts     options
	degraded bool
}

// NewRedisStore creates a Redis-backed store. When the server cannot be
// reached the store runs degraded.
func NewRedisStore(ctx context.Context, c *redis.Client, prefix string, log logrus.FieldLogger, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	s := &RedisStore{c: c, prefix: prefix, log: log, opts: buildOptions(opts)}

	if c == nil {
		s.degraded = true
	} else if err := c.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable")
		s.degraded = true
	}
	if s.degraded {
		log.Warn("Order store unavailable; order tracking is disabled until restart")
	}
	return s
}

func (s *RedisStore) Degraded() bool { return s.degraded }

func (s *RedisStore) indexKey() string { return s.prefix + "orders" }

func (s *RedisStore) orderKey(trackingID string) string { return s.prefix + "order:" + trackingID }

func (s *RedisStore) Create(ctx context.Context, order model.PendingOrder) (string, error) {
	order = prepare(order, s.opts.now())
	if s.degraded {
		return order.TrackingID, nil
	}

	rec := model.NewOrderRecord(order)
	_, err := s.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.orderKey(rec.RowKey), recordToHash(rec))
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(order.SentAt.UnixMilli()),
			Member: rec.RowKey,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create pending order: %w", err)
	}
	return order.TrackingID, nil
}

func (s *RedisStore) ListPending(ctx context.Context) ([]model.PendingOrder, error) {
	if s.degraded {
		return []model.PendingOrder{}, nil
	}

	ids, err := s.c.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	if len(ids) == 0 {
		return []model.PendingOrder{}, nil
	}

	records, stale, err := s.loadRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	if len(stale) > 0 {
		if err := s.c.ZRem(ctx, s.indexKey(), toMembers(stale)...).Err(); err != nil {
			s.log.WithError(err).Warn("Failed to prune stale order index entries")
		}
	}

	list := make([]model.PendingOrder, 0, len(records))
	for _, rec := range records {
		o, err := rec.ToPendingOrder()
		if err != nil {
			s.log.WithError(err).WithField("tracking_id", rec.RowKey).Warn("Skipping unreadable pending order")
			continue
		}
		list = append(list, o)
	}
	sortOrders(list)
	return list, nil
}

// loadRecords fetches the hashes for ids in one round trip. Ids whose hash
// is gone are returned as stale.
func (s *RedisStore) loadRecords(ctx context.Context, ids []string) ([]model.OrderRecord, []string, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.orderKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	records := make([]model.OrderRecord, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := recordFromHash(ids[i], fields)
		if err != nil {
			s.log.WithError(err).WithField("tracking_id", ids[i]).Warn("Skipping unreadable pending order")
			continue
		}
		records = append(records, rec)
	}
	return records, stale, nil
}

func (s *RedisStore) Get(ctx context.Context, trackingID string) (*model.PendingOrder, error) {
	if s.degraded {
		return nil, ErrNotFound
	}

	fields, err := s.c.HGetAll(ctx, s.orderKey(trackingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending order: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := recordFromHash(trackingID, fields)
	if err != nil {
		return nil, err
	}
	o, err := rec.ToPendingOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *RedisStore) Complete(ctx context.Context, trackingID string) error {
	if s.degraded {
		return nil
	}
	_, err := s.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.orderKey(trackingID))
		pipe.ZRem(ctx, s.indexKey(), trackingID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete order %s: %w", trackingID, err)
	}
	return nil
}

func (s *RedisStore) UpdateReminder(ctx context.Context, trackingID string, at time.Time) error {
	if s.degraded {
		return nil
	}
	err := setIfExists.Run(ctx, s.c,
		[]string{s.orderKey(trackingID)},
		fieldLastReminderAt, model.FormatTimestamp(at),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to update reminder for order %s: %w", trackingID, err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	if s.degraded {
		return 0, nil
	}
	n, err := s.c.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending orders: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s.degraded {
		return 0, nil
	}

	// Scores are whole milliseconds, so candidates are re-checked against
	// the stored SentAt before deletion.
	ids, err := s.c.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge orders: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	records, stale, err := s.loadRecords(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to purge orders: %w", err)
	}

	var expired []string
	for _, rec := range records {
		sentAt, err := model.ParseTimestamp(rec.SentAt)
		if err != nil || sentAt.Before(cutoff) {
			expired = append(expired, rec.RowKey)
		}
	}
	if len(expired) == 0 && len(stale) == 0 {
		return 0, nil
	}

	_, err = s.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range expired {
			pipe.Del(ctx, s.orderKey(id))
		}
		pipe.ZRem(ctx, s.indexKey(), toMembers(append(expired, stale...))...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge orders: %w", err)
	}
	return len(expired), nil
}

func recordToHash(rec model.OrderRecord) map[string]interface{} {
	h := map[string]interface{}{
		fieldPartitionKey: rec.PartitionKey,
		fieldChatID:       strconv.FormatInt(rec.ChatID, 10),
		fieldUserID:       strconv.FormatInt(rec.UserID, 10),
		fieldMessageID:    strconv.Itoa(rec.MessageID),
		fieldEmailSentTo:  rec.EmailSentTo,
		fieldEmailSubject: rec.EmailSubject,
		fieldSentAt:       rec.SentAt,
	}
	if rec.EmailMessageID != nil {
		h[fieldEmailMessageID] = *rec.EmailMessageID
	}
	if rec.LastReminderAt != nil {
		h[fieldLastReminderAt] = *rec.LastReminderAt
	}
	return h
}

func recordFromHash(trackingID string, h map[string]string) (model.OrderRecord, error) {
	rec := model.OrderRecord{
		PartitionKey: h[fieldPartitionKey],
		RowKey:       trackingID,
		EmailSentTo:  h[fieldEmailSentTo],
		EmailSubject: h[fieldEmailSubject],
		SentAt:       h[fieldSentAt],
	}

	var err error
	if rec.ChatID, err = strconv.ParseInt(h[fieldChatID], 10, 64); err != nil {
		return rec, fmt.Errorf("order %s chat_id: %w", trackingID, err)
	}
	if rec.UserID, err = strconv.ParseInt(h[fieldUserID], 10, 64); err != nil {
		return rec, fmt.Errorf("order %s user_id: %w", trackingID, err)
	}
	if v := h[fieldMessageID]; v != "" {
		if rec.MessageID, err = strconv.Atoi(v); err != nil {
			return rec, fmt.Errorf("order %s message_id: %w", trackingID, err)
		}
	}
	if v, ok := h[fieldEmailMessageID]; ok {
		rec.EmailMessageID = &v
	}
	if v, ok := h[fieldLastReminderAt]; ok {
		rec.LastReminderAt = &v
	}
	return rec, nil
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
