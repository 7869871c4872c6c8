// 이 파일은 스탬피드 방지 캐시어사이드 서비스를 구현합니다.
package core

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// CacheAside: 캐시어사이드 서비스
// =============================================================================
// 미스 시 로더를 호출해 원본을 채우는 read-through 패턴을 구현합니다.
// 같은 키에 대한 동시 미스는 singleflight로 병합되어 로더가 정확히
// 한 번만 실행됩니다. 비행 내부에서 캐시를 재확인하여, 대기 중에
// 다른 경로로 채워진 값을 중복 적재하지 않습니다.
// =============================================================================

// Loader는 캐시 미스 시 원본에서 값을 가져오는 함수입니다.
// 직렬화된 바이트를 반환합니다. 빈 값은 캐시되지 않고 미발견으로
// 처리됩니다.
type Loader func(ctx context.Context) ([]byte, error)

// loadResult는 singleflight 비행의 결과입니다.
type loadResult struct {
	value []byte
	found bool
}

// CacheAside는 스탬피드 방지 read-through 캐시 서비스입니다.
type CacheAside struct {
	orch     *Orchestrator
	pipeline *Pipeline
	tracker  *PatternTracker
	logger   *zap.Logger

	flight singleflight.Group

	// 통계 (atomic)
	loads      uint64
	loadErrors uint64
	coalesced  uint64
}

// NewCacheAside는 새로운 캐시어사이드 서비스를 생성합니다.
func NewCacheAside(orch *Orchestrator, pipeline *Pipeline, tracker *PatternTracker, logger *zap.Logger) *CacheAside {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheAside{
		orch:     orch,
		pipeline: pipeline,
		tracker:  tracker,
		logger:   logger,
	}
}

// GetOrSet은 캐시를 조회하고, 미스면 로더를 호출해 값을 채웁니다.
// 같은 키의 동시 호출은 하나의 로더 실행을 공유합니다.
// 로더가 빈 값을 반환하면 캐시하지 않고 (nil, false, nil)을 반환합니다.
func (s *CacheAside) GetOrSet(ctx context.Context, key, entityType string, loader Loader, setOpts *SetOptions) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	if loader == nil {
		return nil, false, ErrNilLoader
	}

	entry, found, err := s.orch.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		s.tracker.Record(key, entityType, true)
		return entry.Value, true, nil
	}

	s.tracker.Record(key, entityType, false)

	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		// 비행을 기다리는 동안 다른 경로로 채워졌을 수 있으므로
		// 캐시를 한 번 더 확인합니다.
		if entry, found, err := s.orch.Get(ctx, key); err == nil && found {
			return &loadResult{value: entry.Value, found: true}, nil
		}

		atomic.AddUint64(&s.loads, 1)
		value, lerr := loader(ctx)
		if lerr != nil {
			atomic.AddUint64(&s.loadErrors, 1)
			return nil, lerr
		}
		if len(value) == 0 {
			return &loadResult{found: false}, nil
		}

		if serr := s.orch.Set(ctx, key, value, entityType, setOpts); serr != nil {
			// 적재 실패는 로더 결과 반환을 막지 않습니다.
			s.logger.Warn("cache fill failed after load",
				zap.String("key", key), zap.Error(serr))
		}
		return &loadResult{value: value, found: true}, nil
	})
	if shared {
		atomic.AddUint64(&s.coalesced, 1)
	}
	if err != nil {
		return nil, false, err
	}

	result := v.(*loadResult)
	return result.value, result.found, nil
}

// GetOrSetMany는 여러 키를 한 번에 조회/적재합니다.
// 히트는 먼저 수거하고 미스만 병렬로 GetOrSet을 수행합니다.
// 개별 로더의 실패는 해당 키만 누락시키고 전체를 실패시키지 않습니다.
// 모든 키가 실패했을 때만 마지막 오류를 반환합니다.
func (s *CacheAside) GetOrSetMany(ctx context.Context, entityType string, loaders map[string]Loader, setOpts *SetOptions) (map[string][]byte, error) {
	if len(loaders) == 0 {
		return map[string][]byte{}, nil
	}

	var mu sync.Mutex
	result := make(map[string][]byte, len(loaders))

	var misses []string
	for key := range loaders {
		entry, found, err := s.orch.Get(ctx, key)
		if err == nil && found {
			s.tracker.Record(key, entityType, true)
			result[key] = entry.Value
			continue
		}
		misses = append(misses, key)
	}

	if len(misses) == 0 {
		return result, nil
	}

	var lastErr error
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for _, key := range misses {
		key := key
		g.Go(func() error {
			value, found, err := s.GetOrSet(gctx, key, entityType, loaders[key], setOpts)
			if err != nil {
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				s.logger.Warn("batch load failed for key",
					zap.String("key", key), zap.Error(err))
				return nil
			}
			if found {
				mu.Lock()
				result[key] = value
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(result) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return result, nil
}

// ExecuteWithInvalidation은 쓰기 연산을 실행하고, 성공했을 때만
// 무효화 이벤트를 파이프라인에 넣습니다. 연산이 실패하면 캐시는
// 건드리지 않습니다.
func (s *CacheAside) ExecuteWithInvalidation(ctx context.Context, op func(ctx context.Context) error, event *InvalidationEvent) error {
	if op == nil {
		return ErrNilLoader
	}

	if err := op(ctx); err != nil {
		return err
	}

	if event != nil && s.pipeline != nil {
		if err := s.pipeline.Enqueue(ctx, event); err != nil {
			// 연산은 이미 성공했으므로 무효화 실패는 전파하되
			// 호출자가 구분할 수 있게 둡니다.
			return err
		}
		s.tracker.Forget(event.Key)
	}
	return nil
}

// Tracker는 접근 패턴 추적기를 반환합니다. 워밍 스케줄러가 사용합니다.
func (s *CacheAside) Tracker() *PatternTracker {
	return s.tracker
}

// CacheAsideStats는 캐시어사이드 통계입니다.
type CacheAsideStats struct {
	Loads      uint64 `json:"loads"`
	LoadErrors uint64 `json:"load_errors"`
	Coalesced  uint64 `json:"coalesced"`
}

// Stats는 현재 통계를 반환합니다.
func (s *CacheAside) Stats() CacheAsideStats {
	return CacheAsideStats{
		Loads:      atomic.LoadUint64(&s.loads),
		LoadErrors: atomic.LoadUint64(&s.loadErrors),
		Coalesced:  atomic.LoadUint64(&s.coalesced),
	}
}
