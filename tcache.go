// Package tcache는 멀티테넌트 접근 제어 서비스를 위한 계층형 캐시
// 서브시스템입니다.
//
// 세 계층(Fast/Distributed/Durable)을 순서대로 조회하고, 계층별 서킷
// 브레이커와 페일오버 체인으로 부분 장애를 격리합니다. 캐시 미스는
// singleflight로 병합되어 원본 조회가 키당 한 번만 일어나고, 무효화는
// 비동기 배치 파이프라인을 거쳐 데드레터 큐로 보호됩니다.
//
// 기본 사용:
//
//	cache, err := tcache.Quick()
//	if err != nil { ... }
//	if err := cache.Start(ctx); err != nil { ... }
//	defer cache.Close(context.Background())
//
//	var perms []Permission
//	found, err := cache.GetOrSet(ctx, "tenant:42:user:7:perms", "permission", &perms,
//		func(ctx context.Context) (interface{}, error) {
//			return loadPermissions(ctx, 42, 7)
//		})
package tcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tenantsec/tcache/compression"
	"github.com/tenantsec/tcache/core"
	"github.com/tenantsec/tcache/serializer"
	"github.com/tenantsec/tcache/tiers/memory"
	"github.com/tenantsec/tcache/tiers/postgres"
	"github.com/tenantsec/tcache/tiers/redis"
	"github.com/tenantsec/tcache/tiers/sqlite"
)

// =============================================================================
// 타입 재노출
// =============================================================================

// 핵심 타입을 최상위 패키지에서 바로 쓸 수 있게 재노출합니다.
type (
	Entry             = core.Entry
	TierClient        = core.TierClient
	TierLevel         = core.TierLevel
	InvalidationEvent = core.InvalidationEvent
	WarmupStrategy    = core.WarmupStrategy
	SetOptions        = core.SetOptions
	Option            = core.Option
	BreakerConfig     = core.BreakerConfig
	HealthReport      = core.HealthReport
)

const (
	TierFast        = core.TierFast
	TierDistributed = core.TierDistributed
	TierDurable     = core.TierDurable
)

var (
	ErrCircuitOpen    = core.ErrCircuitOpen
	ErrEmptyKey       = core.ErrEmptyKey
	ErrClosed         = core.ErrClosed
	ErrPipelineClosed = core.ErrPipelineClosed
)

// NewInvalidationEvent는 새로운 무효화 이벤트를 생성합니다.
func NewInvalidationEvent(key, entityType string) *InvalidationEvent {
	return core.NewInvalidationEvent(key, entityType)
}

// =============================================================================
// Cache: 최상위 파사드
// =============================================================================

// Cache는 계층형 캐시 서브시스템의 진입점입니다.
type Cache struct {
	opts  *core.Options
	codec serializer.Codec

	orch     *core.Orchestrator
	pipeline *core.Pipeline
	aside    *core.CacheAside
	warmup   *core.WarmupScheduler
	tracker  *core.PatternTracker

	mu      sync.Mutex
	started bool
}

// New는 계층이 등록되지 않은 캐시를 생성합니다.
// AddTier로 계층을 추가한 뒤 Start를 호출해야 합니다.
func New(options ...Option) (*Cache, error) {
	opts := core.DefaultOptions()
	for _, opt := range options {
		opt(opts)
	}

	var compressor core.Compressor
	if opts.CompressionThreshold > 0 {
		c, err := compression.New(opts.CompressionType)
		if err != nil {
			return nil, err
		}
		compressor = c
	}

	codec, err := serializer.New("msgpack")
	if err != nil {
		return nil, err
	}

	orch := core.NewOrchestrator(opts, compressor)
	tracker := core.NewPatternTracker()
	graph := core.NewDependencyGraph()
	pipeline := core.NewPipeline(opts.Pipeline, orch, graph, tracker, opts.Logger)
	aside := core.NewCacheAside(orch, pipeline, tracker, opts.Logger)
	warmup := core.NewWarmupScheduler(opts.Warmup, orch, tracker, opts.Logger)

	return &Cache{
		opts:     opts,
		codec:    codec,
		orch:     orch,
		pipeline: pipeline,
		aside:    aside,
		warmup:   warmup,
		tracker:  tracker,
	}, nil
}

// AddTier는 계층 클라이언트를 등록합니다. Start 전에 호출해야 합니다.
func (c *Cache) AddTier(client TierClient) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("cannot add tier after start")
	}
	return c.orch.AddTier(client)
}

// RegisterWarmup은 엔터티 유형의 워밍 전략을 등록합니다.
func (c *Cache) RegisterWarmup(strategy WarmupStrategy) {
	c.warmup.Register(strategy)
}

// Start는 계층에 연결하고 파이프라인과 워밍 스케줄러를 시작합니다.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	if err := c.orch.Start(ctx); err != nil {
		return err
	}
	c.pipeline.Start()
	c.warmup.Start(ctx)

	c.started = true
	return nil
}

// Close는 워밍을 멈추고, 파이프라인 큐를 모두 비운 뒤, 계층 연결을
// 종료합니다. ctx가 먼저 만료되면 남은 이벤트는 버려질 수 있습니다.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false

	c.warmup.Stop()

	var errs []error
	if err := c.pipeline.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline close: %w", err))
	}
	if err := c.orch.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator close: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// 편의 생성자
// =============================================================================

// Quick은 인메모리 계층만 있는 캐시를 생성합니다. 테스트와 단일
// 프로세스 배포용입니다.
func Quick(options ...Option) (*Cache, error) {
	cache, err := New(options...)
	if err != nil {
		return nil, err
	}
	if err := cache.AddTier(memory.New(nil)); err != nil {
		return nil, err
	}
	return cache, nil
}

// WithMemoryAndRedis는 Fast + Distributed 2계층 캐시를 생성합니다.
func WithMemoryAndRedis(redisConfig *redis.Config, options ...Option) (*Cache, error) {
	cache, err := New(options...)
	if err != nil {
		return nil, err
	}
	if err := cache.AddTier(memory.New(nil)); err != nil {
		return nil, err
	}
	if err := cache.AddTier(redis.New(redisConfig)); err != nil {
		return nil, err
	}
	return cache, nil
}

// FullStack은 메모리 + Redis + PostgreSQL 3계층 캐시를 생성합니다.
func FullStack(memConfig *memory.Config, redisConfig *redis.Config, pgConfig *postgres.Config, options ...Option) (*Cache, error) {
	cache, err := New(options...)
	if err != nil {
		return nil, err
	}
	if err := cache.AddTier(memory.New(memConfig)); err != nil {
		return nil, err
	}
	if err := cache.AddTier(redis.New(redisConfig)); err != nil {
		return nil, err
	}
	if err := cache.AddTier(postgres.New(pgConfig)); err != nil {
		return nil, err
	}
	return cache, nil
}

// Embedded는 메모리 + SQLite 캐시를 생성합니다. 외부 인프라 없이
// 재시작 내구성이 필요한 경우용입니다.
func Embedded(sqliteConfig *sqlite.Config, options ...Option) (*Cache, error) {
	cache, err := New(options...)
	if err != nil {
		return nil, err
	}
	if err := cache.AddTier(memory.New(nil)); err != nil {
		return nil, err
	}
	if err := cache.AddTier(sqlite.New(sqliteConfig)); err != nil {
		return nil, err
	}
	return cache, nil
}

// =============================================================================
// 조회/적재
// =============================================================================

// GetOrSet은 캐시를 조회하고, 미스면 loader로 원본을 적재합니다.
// 히트/적재된 값은 dest에 역직렬화됩니다. loader가 nil 값을 반환하면
// 캐시하지 않고 (false, nil)을 반환합니다. 같은 키의 동시 미스는
// 하나의 loader 실행을 공유합니다.
func (c *Cache) GetOrSet(ctx context.Context, key, entityType string, dest interface{}, loader func(ctx context.Context) (interface{}, error)) (bool, error) {
	return c.getOrSet(ctx, key, entityType, dest, loader, nil, true)
}

// GetOrSetOpts는 GetOrSet에 쓰기 옵션(TTL 등)을 지정하는 변형입니다.
func (c *Cache) GetOrSetOpts(ctx context.Context, key, entityType string, dest interface{}, loader func(ctx context.Context) (interface{}, error), setOpts *SetOptions) (bool, error) {
	return c.getOrSet(ctx, key, entityType, dest, loader, setOpts, true)
}

func (c *Cache) getOrSet(ctx context.Context, key, entityType string, dest interface{}, loader func(ctx context.Context) (interface{}, error), setOpts *SetOptions, retryOnCorrupt bool) (bool, error) {
	if loader == nil {
		return false, core.ErrNilLoader
	}

	raw, found, err := c.aside.GetOrSet(ctx, key, entityType, func(ctx context.Context) ([]byte, error) {
		v, lerr := loader(ctx)
		if lerr != nil {
			return nil, lerr
		}
		if v == nil {
			return nil, nil
		}
		return c.codec.Marshal(v)
	}, setOpts)
	if err != nil || !found {
		return false, err
	}

	if dest == nil {
		return true, nil
	}

	if uerr := c.codec.Unmarshal(raw, dest); uerr != nil {
		// 역직렬화 실패는 미스로 취급합니다. 손상된 키를 제거하고
		// 원본에서 한 번 다시 적재합니다.
		_ = c.orch.Remove(ctx, key)
		if retryOnCorrupt {
			return c.getOrSet(ctx, key, entityType, dest, loader, setOpts, false)
		}
		return false, fmt.Errorf("cached value for %q could not be decoded: %w", key, uerr)
	}
	return true, nil
}

// GetOrSetMany는 여러 키를 한 번에 조회/적재하고 직렬화된 바이트 맵을
// 반환합니다. 개별 키의 실패는 해당 키만 누락시킵니다. 값 복원에는
// Codec을 사용합니다.
func (c *Cache) GetOrSetMany(ctx context.Context, entityType string, loaders map[string]func(ctx context.Context) (interface{}, error)) (map[string][]byte, error) {
	wrapped := make(map[string]core.Loader, len(loaders))
	for key, loader := range loaders {
		loader := loader
		wrapped[key] = func(ctx context.Context) ([]byte, error) {
			v, err := loader(ctx)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, nil
			}
			return c.codec.Marshal(v)
		}
	}
	return c.aside.GetOrSetMany(ctx, entityType, wrapped, nil)
}

// Get은 캐시만 조회합니다. 미스는 (false, nil)입니다.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	entry, found, err := c.orch.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if dest == nil {
		return true, nil
	}
	if uerr := c.codec.Unmarshal(entry.Value, dest); uerr != nil {
		_ = c.orch.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}

// =============================================================================
// 쓰기/삭제
// =============================================================================

// Set은 값을 직렬화해 모든 계층에 기록합니다.
func (c *Cache) Set(ctx context.Context, key, entityType string, value interface{}, setOpts *SetOptions) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("value marshal failed: %w", err)
	}
	return c.orch.Set(ctx, key, data, entityType, setOpts)
}

// Remove는 키를 모든 계층에서 즉시 삭제합니다. 멱등합니다.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.orch.Remove(ctx, key)
}

// RemoveByPrefix는 접두사와 일치하는 키를 모든 계층에서 삭제하고
// 삭제된 키 수를 반환합니다.
func (c *Cache) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	return c.orch.RemoveByPrefix(ctx, prefix)
}

// =============================================================================
// 무효화
// =============================================================================

// Invalidate는 무효화 이벤트를 파이프라인 큐에 넣습니다. 처리는
// 비동기이며, 큐가 가득 차면 블록됩니다.
func (c *Cache) Invalidate(ctx context.Context, event *InvalidationEvent) error {
	return c.pipeline.Enqueue(ctx, event)
}

// InvalidateNow는 파이프라인을 거치지 않고 이벤트를 즉시 적용합니다.
// 강한 일관성이 필요한 관리 작업용입니다.
func (c *Cache) InvalidateNow(ctx context.Context, event *InvalidationEvent) error {
	return c.orch.Invalidate(ctx, event)
}

// ExecuteWithInvalidation은 쓰기 연산을 실행하고, 성공했을 때만
// 무효화 이벤트를 큐에 넣습니다.
func (c *Cache) ExecuteWithInvalidation(ctx context.Context, op func(ctx context.Context) error, event *InvalidationEvent) error {
	return c.aside.ExecuteWithInvalidation(ctx, op, event)
}

// RegisterDependency는 키 간 무효화 의존성을 등록합니다.
// key가 무효화되면 dependent도 함께 무효화됩니다. 전파는 한 홉입니다.
func (c *Cache) RegisterDependency(key, dependent string) {
	c.pipeline.Graph().Register(key, dependent)
}

// ReplayDeadLetters는 데드레터 큐의 이벤트를 다시 파이프라인에 넣습니다.
func (c *Cache) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	return c.pipeline.ReplayDeadLetters(ctx, limit)
}

// =============================================================================
// 워밍 / 진단
// =============================================================================

// Warmup은 주어진 키들을 즉시 워밍합니다.
func (c *Cache) Warmup(ctx context.Context, entityType string, keys []string) error {
	return c.warmup.WarmKeys(ctx, entityType, keys)
}

// Health는 캐시 서브시스템의 종합 상태 보고서를 생성합니다.
func (c *Cache) Health(ctx context.Context) *HealthReport {
	return core.BuildHealthReport(ctx, c.orch, c.pipeline, c.warmup, c.aside)
}

// Stats는 오케스트레이터 통계의 스냅샷을 반환합니다.
func (c *Cache) Stats() core.OrchestratorStats {
	return c.orch.Stats()
}

// Codec은 값 직렬화에 사용되는 코덱을 반환합니다.
func (c *Cache) Codec() serializer.Codec {
	return c.codec
}
