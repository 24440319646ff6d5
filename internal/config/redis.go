package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

var (
	ErrRedisNotEnabled       = errors.New("redis store not enabled")
	ErrRuntimeConfigNotFound = errors.New("runtime config not found in redis")
)

// RedisStore manages configuration shared through Redis.
// The packet path never touches Redis. Reads happen at startup and on
// pub/sub updates; the only writes are admin blacklist changes, so they
// survive restarts and reach peer replicas.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ctx     context.Context
	pubsub  *redis.PubSub
	updates chan ConfigUpdate
}

// ConfigUpdate represents a configuration change notification from Redis pub/sub
type ConfigUpdate struct {
	Type string          `json:"type"` // "blacklist", "ratelimit_reset", "runtime"
	Data json.RawMessage `json:"data"`
}

// BlacklistUpdate is the payload of a "blacklist" ConfigUpdate.
type BlacklistUpdate struct {
	Action string   `json:"action"` // "add" or "remove"
	IPs    []string `json:"ips"`
}

// NewRedisStore creates a new Redis configuration store
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{
		client:  client,
		prefix:  cfg.KeyPrefix,
		ctx:     ctx,
		updates: make(chan ConfigUpdate, 10),
	}

	// Subscribe to configuration changes (for hot-reload)
	pubsub := client.Subscribe(ctx, store.prefix+"config:changed")
	store.pubsub = pubsub

	// Start listening for updates in background
	go store.listenUpdates()

	xlog.Infof("Redis config store initialized: addr=%s, prefix=%s", cfg.Addr, cfg.KeyPrefix)
	return store, nil
}

// listenUpdates listens for Redis pub/sub messages for config hot-reload
func (r *RedisStore) listenUpdates() {
	ch := r.pubsub.Channel()
	for msg := range ch {
		var update ConfigUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			xlog.Warnf("Failed to parse config update: %v", err)
			continue
		}
		select {
		case r.updates <- update:
			xlog.Infof("Received config update: type=%s", update.Type)
		default:
			xlog.Warnf("Config update channel full, dropping update")
		}
	}
}

// Updates returns a channel for receiving configuration updates
func (r *RedisStore) Updates() <-chan ConfigUpdate {
	if r == nil {
		return nil
	}
	return r.updates
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	if r == nil {
		return nil
	}
	if r.pubsub != nil {
		r.pubsub.Close()
	}
	return r.client.Close()
}

// CheckHealth checks if Redis connection is healthy
func (r *RedisStore) CheckHealth() error {
	if r == nil {
		return ErrRedisNotEnabled
	}
	return r.client.Ping(r.ctx).Err()
}

// =============================================================================
// Runtime Configuration - READ ONLY
// =============================================================================

// RuntimeConfig represents runtime overrides stored in Redis.
// The dataplane ONLY reads this, never writes. External admin tools manage it.
type RuntimeConfig struct {
	Backend    BackendConfig    `json:"backend"`
	AcceptRate AcceptRateConfig `json:"accept_rate"`
}

// LoadRuntimeConfig loads runtime overrides from Redis.
// Returns ErrRuntimeConfigNotFound when no overrides are stored; the
// caller keeps its static configuration in that case.
func (r *RedisStore) LoadRuntimeConfig() (*RuntimeConfig, error) {
	if r == nil {
		return nil, ErrRedisNotEnabled
	}

	key := r.prefix + "runtime:config"
	exists, err := r.client.Exists(r.ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check runtime config: %w", err)
	}
	if exists == 0 {
		return nil, ErrRuntimeConfigNotFound
	}

	result, err := r.client.HGetAll(r.ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime config: %w", err)
	}

	cfg := &RuntimeConfig{}

	if v, ok := result["backend.target_addr"]; ok && v != "" {
		cfg.Backend.TargetAddr = v
	}
	if v, ok := result["backend.timeout"]; ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = Duration(d)
		}
	}

	if v, ok := result["accept_rate.enabled"]; ok {
		cfg.AcceptRate.Enabled = v == "1" || v == "true"
	}
	if v, ok := result["accept_rate.cps"]; ok && v != "" {
		fmt.Sscanf(v, "%f", &cfg.AcceptRate.ConnectionsPerSec)
	}
	if v, ok := result["accept_rate.burst"]; ok && v != "" {
		fmt.Sscanf(v, "%d", &cfg.AcceptRate.Burst)
	}

	return cfg, nil
}

// =============================================================================
// Filter State - READ ONLY
// =============================================================================

// FilterState is the persisted portion of the filter pipeline: the set
// of blacklisted source addresses. Rate counters are ephemeral and
// never stored.
type FilterState struct {
	BlacklistIPs []string `json:"blacklist_ips"`
}

// LoadFilterState loads the persisted blacklist from Redis.
func (r *RedisStore) LoadFilterState() (*FilterState, error) {
	if r == nil {
		return nil, ErrRedisNotEnabled
	}

	st := &FilterState{}

	// Blacklisted IPs (a Set, for atomic add/remove without overwrite)
	ips, err := r.client.SMembers(r.ctx, r.prefix+"filter:blacklist").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	st.BlacklistIPs = ips

	return st, nil
}

// =============================================================================
// Blacklist Persistence (control plane writes)
// =============================================================================

// PersistBlacklistUpdate stores an admin blacklist change and announces
// it on the config channel so peer replicas converge. The caller has
// already applied the change locally; a persistence failure degrades to
// local-only state.
func (r *RedisStore) PersistBlacklistUpdate(action string, ips []string) error {
	if r == nil {
		return ErrRedisNotEnabled
	}
	if len(ips) == 0 {
		return nil
	}

	members := make([]interface{}, len(ips))
	for i, ip := range ips {
		members[i] = ip
	}

	key := r.prefix + "filter:blacklist"
	var err error
	switch action {
	case "add":
		err = r.client.SAdd(r.ctx, key, members...).Err()
	case "remove":
		err = r.client.SRem(r.ctx, key, members...).Err()
	default:
		return fmt.Errorf("unknown blacklist action %q", action)
	}
	if err != nil {
		return fmt.Errorf("failed to persist blacklist %s: %w", action, err)
	}

	inner, err := json.Marshal(BlacklistUpdate{Action: action, IPs: ips})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ConfigUpdate{Type: "blacklist", Data: inner})
	if err != nil {
		return err
	}
	if err := r.client.Publish(r.ctx, r.prefix+"config:changed", string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to publish blacklist update: %w", err)
	}
	return nil
}
