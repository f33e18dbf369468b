package tokens

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains Redis connection settings for the inventory
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	PoolSize    int           `yaml:"pool_size"`
	PoolTimeout time.Duration `yaml:"pool_timeout"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`

	TLS *tls.Config `yaml:"-"`

	// KeyPrefix namespaces all inventory keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultRedisConfig returns a configuration with sensible defaults
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  4 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
		KeyPrefix:    "tokens:",
	}
}

// Validate checks the configuration for validity
func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0")
	}
	return nil
}

// RedisInventory implements Inventory on Redis sets, keyed per user,
// per realm and per serial. Counts are SCARD lookups, so they stay
// cheap no matter how many tokens a site carries.
type RedisInventory struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisInventory connects to Redis and verifies the connection
func NewRedisInventory(config *RedisConfig) (*RedisInventory, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		DialTimeout:  config.DialTimeout,
		TLSConfig:    config.TLS,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisInventory{client: client, prefix: config.KeyPrefix}, nil
}

// Close closes the Redis connection
func (r *RedisInventory) Close() error {
	return r.client.Close()
}

// Add registers or replaces a token by serial. A replaced token is
// unlinked from its old user and realm sets first.
func (r *RedisInventory) Add(ctx context.Context, t Token) error {
	if t.Serial == "" {
		return fmt.Errorf("token serial is required")
	}
	if err := r.Remove(ctx, t.Serial); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.serialKey(t.Serial), data, 0)
	if t.Username != "" {
		pipe.SAdd(ctx, r.userKey(t.Username, t.Realm), t.Serial)
	}
	for _, realm := range tokenRealms(t) {
		pipe.SAdd(ctx, r.realmKey(realm), t.Serial)
		pipe.SAdd(ctx, r.serialRealmsKey(t.Serial), realm)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store token %s: %w", t.Serial, err)
	}
	return nil
}

// Remove drops a token by serial. Removing an unknown serial is a no-op.
func (r *RedisInventory) Remove(ctx context.Context, serial string) error {
	data, err := r.client.Get(ctx, r.serialKey(serial)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load token %s: %w", serial, err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("unmarshal token %s: %w", serial, err)
	}

	pipe := r.client.TxPipeline()
	if t.Username != "" {
		pipe.SRem(ctx, r.userKey(t.Username, t.Realm), serial)
	}
	for _, realm := range tokenRealms(t) {
		pipe.SRem(ctx, r.realmKey(realm), serial)
	}
	pipe.Del(ctx, r.serialRealmsKey(serial))
	pipe.Del(ctx, r.serialKey(serial))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove token %s: %w", serial, err)
	}
	return nil
}

// CountForUser returns the number of tokens assigned to username in realm
func (r *RedisInventory) CountForUser(ctx context.Context, username, realm string) (int, error) {
	n, err := r.client.SCard(ctx, r.userKey(username, realm)).Result()
	if err != nil {
		return 0, fmt.Errorf("count tokens for user %s@%s: %w", username, realm, err)
	}
	return int(n), nil
}

// CountForRealm returns the number of tokens visible in realm
func (r *RedisInventory) CountForRealm(ctx context.Context, realm string) (int, error) {
	n, err := r.client.SCard(ctx, r.realmKey(realm)).Result()
	if err != nil {
		return 0, fmt.Errorf("count tokens in realm %s: %w", realm, err)
	}
	return int(n), nil
}

// RealmsOfSerial returns the realms the token is visible in, sorted
func (r *RedisInventory) RealmsOfSerial(ctx context.Context, serial string) ([]string, error) {
	realms, err := r.client.SMembers(ctx, r.serialRealmsKey(serial)).Result()
	if err != nil {
		return nil, fmt.Errorf("realms of token %s: %w", serial, err)
	}
	sort.Strings(realms)
	return realms, nil
}

func (r *RedisInventory) userKey(username, realm string) string {
	return r.prefix + "user:" + realm + ":" + username
}

func (r *RedisInventory) realmKey(realm string) string {
	return r.prefix + "realm:" + realm
}

func (r *RedisInventory) serialKey(serial string) string {
	return r.prefix + "serial:" + serial
}

func (r *RedisInventory) serialRealmsKey(serial string) string {
	return r.prefix + "serial:" + serial + ":realms"
}
