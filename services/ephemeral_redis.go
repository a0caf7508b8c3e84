package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nazim05-hub/MessengerX/config"
	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/utils"
)

const scanBatch = 100

// RedisStore is the EphemeralStore backed by Redis key expiry and pub/sub
type RedisStore struct {
	redis  *redis.Client
	prefix string
	logger *utils.Logger
}

// NewRedisClient parses the configured URL and pings the server. A failed
// ping is logged, not fatal: presence degrades until Redis comes back.
func NewRedisClient(cfg *config.Config, logger *utils.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.DB = cfg.RedisDB

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable, presence and typing degraded until it recovers", "error", err)
		return client, nil
	}

	logger.Info("Connected to Redis successfully")
	return client, nil
}

func NewRedisStore(client *redis.Client, prefix string, logger *utils.Logger) *RedisStore {
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		logger: logger.With("component", "redis_store"),
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) SetStatus(ctx context.Context, userID uint, status models.PresenceStatus) error {
	// Presence is a level: no TTL
	if err := s.redis.Set(ctx, s.key(statusKey(userID)), string(status), 0).Err(); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

func (s *RedisStore) GetStatus(ctx context.Context, userID uint) (models.PresenceStatus, error) {
	val, err := s.redis.Get(ctx, s.key(statusKey(userID))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.StatusOffline, nil
		}
		return models.StatusOffline, fmt.Errorf("failed to get status: %w", err)
	}

	status := models.PresenceStatus(val)
	if !status.Valid() {
		return models.StatusOffline, nil
	}
	return status, nil
}

func (s *RedisStore) PublishStatus(ctx context.Context, change models.StatusChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal status change: %w", err)
	}
	if err := s.redis.Publish(ctx, s.key(StatusChannel), data).Err(); err != nil {
		return fmt.Errorf("failed to publish status change: %w", err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, fn func(models.StatusChange)) error {
	pubsub := s.redis.Subscribe(ctx, s.key(StatusChannel))
	defer pubsub.Close()

	// Wait for the subscription confirmation so errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("status subscription closed")
			}

			var change models.StatusChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Warn("Dropping undecodable status change", "error", err)
				continue
			}
			fn(change)
		}
	}
}

func (s *RedisStore) SetTyping(ctx context.Context, chatID, userID uint, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(typingKey(chatID, userID)), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearTyping(ctx context.Context, chatID, userID uint) error {
	if err := s.redis.Del(ctx, s.key(typingKey(chatID, userID))).Err(); err != nil {
		return fmt.Errorf("failed to clear typing: %w", err)
	}
	return nil
}

// TypingUsers walks the chat's typing keys with SCAN; expired keys are
// already gone, so the result is exactly the live set.
func (s *RedisStore) TypingUsers(ctx context.Context, chatID uint) ([]uint, error) {
	prefix := s.key(typingPrefix(chatID))

	seen := make(map[uint]struct{})
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan typing keys: %w", err)
		}
		for _, k := range keys {
			if id, ok := parseTrailingID(k, prefix); ok {
				seen[id] = struct{}{}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	users := make([]uint, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
