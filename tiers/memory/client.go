// 이 파일은 Fast 계층 클라이언트를 구현합니다.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tenantsec/tcache/core"
)

// =============================================================================
// Client: Fast 계층 인메모리 클라이언트
// =============================================================================
// 프로세스 내 샤딩된 LRU를 사용합니다. 접근 시간은 마이크로초 단위이며
// 연결 장애가 없습니다. 만료된 항목은 조회 시와 주기 정리에서 제거됩니다.
// =============================================================================

// Config는 인메모리 클라이언트 설정입니다.
type Config struct {
	// MaxEntries는 최대 항목 수입니다. 초과 시 샤드별 LRU 퇴거가 일어납니다.
	MaxEntries int

	// CleanupInterval은 만료 항목 정리 주기입니다. 0이면 정리하지 않습니다.
	CleanupInterval time.Duration
}

// DefaultConfig는 기본 설정을 반환합니다.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      100000,
		CleanupInterval: 1 * time.Minute,
	}
}

// Client는 Fast 계층의 인메모리 클라이언트입니다.
type Client struct {
	config *Config
	store  *shardedStore

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New는 새로운 인메모리 클라이언트를 생성합니다.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 100000
	}

	return &Client{
		config: config,
		store:  newShardedStore(config.MaxEntries),
		stopCh: make(chan struct{}),
	}
}

// Name은 백엔드 이름을 반환합니다.
func (c *Client) Name() string { return "memory" }

// Level은 담당 계층을 반환합니다.
func (c *Client) Level() core.TierLevel { return core.TierFast }

// Connect는 만료 정리 루프를 시작합니다.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	c.started = true

	if c.config.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	return nil
}

// Close는 정리 루프를 중단하고 저장소를 비웁니다.
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	close(c.stopCh)
	c.wg.Wait()
	c.store.clear()
	return nil
}

// Get은 키를 조회합니다. 없거나 만료되었으면 (nil, false, nil)입니다.
func (c *Client) Get(_ context.Context, key string) (*core.Entry, bool, error) {
	entry, ok := c.store.get(key)
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

// Set은 엔트리를 저장합니다.
func (c *Client) Set(_ context.Context, entry *core.Entry) error {
	if entry == nil || entry.Key == "" {
		return core.ErrEmptyKey
	}
	c.store.set(entry)
	return nil
}

// Remove는 키를 삭제합니다.
func (c *Client) Remove(_ context.Context, key string) (bool, error) {
	return c.store.remove(key), nil
}

// RemoveByPrefix는 접두사와 일치하는 키를 삭제합니다.
func (c *Client) RemoveByPrefix(_ context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, core.ErrEmptyKey
	}
	return c.store.removeByPrefix(prefix), nil
}

// Health는 저장소 상태를 반환합니다. 인메모리 계층은 항상 정상입니다.
func (c *Client) Health(_ context.Context) (*core.TierHealth, error) {
	return &core.TierHealth{
		Healthy:   true,
		ItemCount: int64(c.store.len()),
	}, nil
}

// Stats는 저장소 통계를 반환합니다.
func (c *Client) Stats() (hits, misses, evictions uint64) {
	return c.store.stats()
}

// Len은 현재 저장된 항목 수를 반환합니다.
func (c *Client) Len() int {
	return c.store.len()
}

func (c *Client) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.store.cleanupExpired()
		}
	}
}
