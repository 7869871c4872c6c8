// Package redis는 Distributed 계층의 Redis 백엔드를 구현합니다.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tenantsec/tcache/core"
)

// =============================================================================
// Client: Distributed 계층 Redis 클라이언트
// =============================================================================
// 엔트리를 JSON 봉투로 저장하고 TTL은 Redis 네이티브 만료를 사용합니다.
// 접두사 삭제는 SCAN으로 키를 모아 배치 DEL을 수행합니다. KEYS는
// 운영 Redis를 멈출 수 있으므로 사용하지 않습니다.
//
// 연결 계열 오류는 core.MarkTransient로 감싸 서킷 브레이커가 집계할 수
// 있게 합니다. redis.Nil은 미발견이지 오류가 아닙니다.
// =============================================================================

// Config는 Redis 클라이언트 설정입니다.
type Config struct {
	// Addr은 Redis 주소입니다. (예: "localhost:6379")
	Addr string

	// Password는 인증 비밀번호입니다. (선택)
	Password string

	// DB는 데이터베이스 번호입니다.
	DB int

	// KeyPrefix는 모든 키 앞에 붙는 네임스페이스입니다.
	KeyPrefix string

	// PoolSize는 연결 풀 크기입니다.
	PoolSize int

	// DialTimeout / ReadTimeout / WriteTimeout은 각 단계의 타임아웃입니다.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ScanCount는 SCAN 한 번에 가져올 키 수입니다.
	ScanCount int64
}

// DefaultConfig는 기본 설정을 반환합니다.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "tcache:",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		ScanCount:    500,
	}
}

// Client는 Distributed 계층의 Redis 클라이언트입니다.
type Client struct {
	config *Config
	rdb    *goredis.Client

	mu        sync.RWMutex
	connected bool
}

// New는 새로운 Redis 클라이언트를 생성합니다.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 500
	}
	return &Client{config: config}
}

// Name은 백엔드 이름을 반환합니다.
func (c *Client) Name() string { return "redis" }

// Level은 담당 계층을 반환합니다.
func (c *Client) Level() core.TierLevel { return core.TierDistributed }

// Connect는 Redis에 연결하고 PING으로 확인합니다.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.rdb = goredis.NewClient(&goredis.Options{
		Addr:         c.config.Addr,
		Password:     c.config.Password,
		DB:           c.config.DB,
		PoolSize:     c.config.PoolSize,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
	})

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return core.MarkTransient(fmt.Errorf("redis ping failed: %w", err))
	}

	c.connected = true
	return nil
}

// Close는 연결을 종료합니다.
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	return c.rdb.Close()
}

func (c *Client) fullKey(key string) string {
	return c.config.KeyPrefix + key
}

// Get은 키를 조회합니다.
func (c *Client) Get(ctx context.Context, key string) (*core.Entry, bool, error) {
	data, err := c.rdb.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, core.MarkTransient(fmt.Errorf("redis get failed: %w", err))
	}

	var entry core.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// 손상된 봉투는 미스로 취급하고 제거합니다.
		_ = c.rdb.Del(ctx, c.fullKey(key)).Err()
		return nil, false, nil
	}

	if entry.IsExpired() {
		_ = c.rdb.Del(ctx, c.fullKey(key)).Err()
		return nil, false, nil
	}

	return &entry, true, nil
}

// Set은 엔트리를 저장합니다. TTL은 Redis 만료로도 설정합니다.
func (c *Client) Set(ctx context.Context, entry *core.Entry) error {
	if entry == nil || entry.Key == "" {
		return core.ErrEmptyKey
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("entry marshal failed: %w", err)
	}

	ttl := entry.TTL()
	if err := c.rdb.Set(ctx, c.fullKey(entry.Key), data, ttl).Err(); err != nil {
		return core.MarkTransient(fmt.Errorf("redis set failed: %w", err))
	}
	return nil
}

// Remove는 키를 삭제합니다.
func (c *Client) Remove(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Del(ctx, c.fullKey(key)).Result()
	if err != nil {
		return false, core.MarkTransient(fmt.Errorf("redis del failed: %w", err))
	}
	return n > 0, nil
}

// RemoveByPrefix는 접두사와 일치하는 키를 SCAN으로 모아 삭제합니다.
func (c *Client) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, core.ErrEmptyKey
	}

	pattern := c.fullKey(prefix) + "*"
	removed := 0
	var cursor uint64

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, c.config.ScanCount).Result()
		if err != nil {
			return removed, core.MarkTransient(fmt.Errorf("redis scan failed: %w", err))
		}

		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, core.MarkTransient(fmt.Errorf("redis del failed: %w", err))
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// Health는 PING과 DBSIZE로 상태를 점검합니다.
func (c *Client) Health(ctx context.Context) (*core.TierHealth, error) {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return &core.TierHealth{Healthy: false, ItemCount: -1, Message: "not connected"}, nil
	}

	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return &core.TierHealth{
			Healthy:   false,
			Latency:   time.Since(start),
			ItemCount: -1,
			Message:   err.Error(),
		}, nil
	}

	health := &core.TierHealth{
		Healthy:   true,
		Latency:   time.Since(start),
		ItemCount: -1,
	}
	if size, err := c.rdb.DBSize(ctx).Result(); err == nil {
		health.ItemCount = size
	}
	return health, nil
}
