// 이 파일은 워밍 스케줄러를 구현합니다.
package core

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// WarmupScheduler: 워밍 스케줄러
// =============================================================================
// 엔터티 유형별 워밍 전략을 등록받아 세 가지 패스를 주기적으로 돕니다.
//
//   - 초기 패스: 시작 시 각 전략의 KeysToWarm을 병렬로 적재합니다.
//   - 예측 패스: 히트율이 낮은데 접근이 잦은 키를 미리 갱신합니다.
//   - 지능형 패스: 최근 활발하고 히트율이 좋은 키를 만료 전에 갱신합니다.
//   - 분석 패스: 오래 유휴 상태인 접근 패턴을 정리합니다.
//
// 모든 워밍 작업은 전역 세마포어를 공유하므로 전략 수와 무관하게
// 동시 원본 조회가 제한됩니다.
// =============================================================================

// WarmupStrategy는 단일 엔터티 유형의 워밍 방법을 정의합니다.
type WarmupStrategy interface {
	// EntityType은 이 전략이 담당하는 엔터티 유형입니다.
	EntityType() string

	// KeysToWarm은 초기 워밍 대상 키 목록을 반환합니다.
	KeysToWarm(ctx context.Context) ([]string, error)

	// WarmKey는 키를 원본에서 적재해 캐시를 채웁니다.
	WarmKey(ctx context.Context, key string) error

	// RefreshKey는 이미 캐시된 키를 원본 기준으로 갱신합니다.
	RefreshKey(ctx context.Context, key string) error
}

// WarmupScheduler는 등록된 전략으로 캐시를 선제 적재합니다.
type WarmupScheduler struct {
	config  WarmupConfig
	orch    *Orchestrator
	tracker *PatternTracker
	logger  *zap.Logger

	mu         sync.RWMutex
	strategies map[string]WarmupStrategy

	sem    *semaphore.Weighted
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// 통계 (atomic)
	warmed    uint64
	refreshed uint64
	warmFails uint64
	pruned    uint64
}

// NewWarmupScheduler는 새로운 워밍 스케줄러를 생성합니다.
func NewWarmupScheduler(config WarmupConfig, orch *Orchestrator, tracker *PatternTracker, logger *zap.Logger) *WarmupScheduler {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WarmupScheduler{
		config:     config,
		orch:       orch,
		tracker:    tracker,
		logger:     logger,
		strategies: make(map[string]WarmupStrategy),
		sem:        semaphore.NewWeighted(config.MaxConcurrency),
		stopCh:     make(chan struct{}),
	}
}

// Register는 엔터티 유형의 워밍 전략을 등록합니다.
// 같은 유형을 다시 등록하면 교체됩니다.
func (w *WarmupScheduler) Register(strategy WarmupStrategy) {
	if strategy == nil {
		return
	}
	w.mu.Lock()
	w.strategies[strategy.EntityType()] = strategy
	w.mu.Unlock()
}

// Start는 초기 워밍을 수행하고 주기 패스를 시작합니다.
// 초기 워밍 실패는 시작을 막지 않습니다.
func (w *WarmupScheduler) Start(ctx context.Context) {
	if err := w.initialPass(ctx); err != nil {
		w.logger.Warn("initial warmup finished with errors", zap.Error(err))
	}

	if w.config.PredictiveInterval > 0 {
		w.wg.Add(1)
		go w.loop(w.config.PredictiveInterval, w.predictivePass)
	}
	if w.config.IntelligentInterval > 0 {
		w.wg.Add(1)
		go w.loop(w.config.IntelligentInterval, w.intelligentPass)
	}
	if w.config.AnalysisInterval > 0 {
		w.wg.Add(1)
		go w.loop(w.config.AnalysisInterval, w.analysisPass)
	}
}

// Stop은 주기 패스를 중단하고 진행 중인 작업을 기다립니다.
func (w *WarmupScheduler) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *WarmupScheduler) loop(interval time.Duration, pass func(ctx context.Context)) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			pass(ctx)
			cancel()
		}
	}
}

// =============================================================================
// 패스 구현
// =============================================================================

// initialPass는 모든 전략의 KeysToWarm을 병렬로 적재합니다.
func (w *WarmupScheduler) initialPass(ctx context.Context) error {
	w.mu.RLock()
	strategies := make([]WarmupStrategy, 0, len(w.strategies))
	for _, s := range w.strategies {
		strategies = append(strategies, s)
	}
	w.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, strategy := range strategies {
		strategy := strategy
		g.Go(func() error {
			keys, err := strategy.KeysToWarm(gctx)
			if err != nil {
				w.logger.Warn("keys-to-warm failed",
					zap.String("entity_type", strategy.EntityType()),
					zap.Error(err))
				return nil
			}
			for _, key := range keys {
				w.runWarm(gctx, strategy, key, false)
			}
			return nil
		})
	}
	return g.Wait()
}

// predictivePass는 히트율이 낮은 인기 키를 미리 적재합니다.
// 히트율이 낮다는 것은 자주 찾는데 자주 만료된다는 뜻입니다.
func (w *WarmupScheduler) predictivePass(ctx context.Context) {
	candidates := w.selectPatterns(func(p AccessPattern) bool {
		return p.HitRate() < w.config.PredictiveHitRate &&
			p.AccessCount > w.config.PredictiveMinAccess
	}, w.config.PredictiveLimit)

	w.warmCandidates(ctx, candidates, false)
}

// intelligentPass는 최근 활발하고 히트율이 좋은 키를 만료 전에 갱신합니다.
func (w *WarmupScheduler) intelligentPass(ctx context.Context) {
	cutoff := time.Now().Add(-w.config.IntelligentWindow)

	candidates := w.selectPatterns(func(p AccessPattern) bool {
		return p.LastAccess.After(cutoff) &&
			p.HitRate() > w.config.IntelligentHitRate &&
			p.AccessCount > w.config.IntelligentMinAccess
	}, w.config.IntelligentLimit)

	w.warmCandidates(ctx, candidates, true)
}

// analysisPass는 오래 유휴 상태인 접근 패턴을 정리합니다.
func (w *WarmupScheduler) analysisPass(_ context.Context) {
	removed := w.tracker.Prune(w.config.PruneAfter, w.config.PruneMaxAccess)
	if removed > 0 {
		atomic.AddUint64(&w.pruned, uint64(removed))
		w.logger.Debug("pruned idle access patterns", zap.Int("removed", removed))
	}
}

// selectPatterns는 조건을 만족하는 패턴을 접근 횟수 내림차순으로
// 최대 limit개 선택합니다.
func (w *WarmupScheduler) selectPatterns(match func(AccessPattern) bool, limit int) []AccessPattern {
	all := w.tracker.Snapshot()

	var selected []AccessPattern
	for _, p := range all {
		if match(p) {
			selected = append(selected, p)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].AccessCount > selected[j].AccessCount
	})

	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}

// warmCandidates는 후보 키를 전략으로 적재/갱신합니다.
// 전략이 없는 엔터티 유형은 건너뜁니다.
func (w *WarmupScheduler) warmCandidates(ctx context.Context, candidates []AccessPattern, refresh bool) {
	var wg sync.WaitGroup
	for _, p := range candidates {
		w.mu.RLock()
		strategy, ok := w.strategies[p.EntityType]
		w.mu.RUnlock()
		if !ok {
			continue
		}

		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer w.sem.Release(1)
			w.warmOne(ctx, strategy, key, refresh)
		}(p.Key)
	}
	wg.Wait()
}

// runWarm은 세마포어를 획득한 뒤 단일 키를 워밍합니다. (동기)
func (w *WarmupScheduler) runWarm(ctx context.Context, strategy WarmupStrategy, key string, refresh bool) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer w.sem.Release(1)
	w.warmOne(ctx, strategy, key, refresh)
}

func (w *WarmupScheduler) warmOne(ctx context.Context, strategy WarmupStrategy, key string, refresh bool) {
	var err error
	if refresh {
		err = strategy.RefreshKey(ctx, key)
	} else {
		err = strategy.WarmKey(ctx, key)
	}

	if err != nil {
		atomic.AddUint64(&w.warmFails, 1)
		w.logger.Debug("warmup failed",
			zap.String("entity_type", strategy.EntityType()),
			zap.String("key", key),
			zap.Bool("refresh", refresh),
			zap.Error(err))
		return
	}

	if refresh {
		atomic.AddUint64(&w.refreshed, 1)
	} else {
		atomic.AddUint64(&w.warmed, 1)
	}
}

// =============================================================================
// 직접 워밍
// =============================================================================

// WarmKeys는 주어진 키들을 즉시 워밍합니다.
// 캐시에 이미 있는 키는 조회만으로 상위 계층 승격을 유도하고,
// 없는 키는 해당 엔터티 유형의 전략으로 적재합니다.
func (w *WarmupScheduler) WarmKeys(ctx context.Context, entityType string, keys []string) error {
	w.mu.RLock()
	strategy := w.strategies[entityType]
	w.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := w.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer w.sem.Release(1)

			if _, found, err := w.orch.Get(gctx, key); err == nil && found {
				return nil
			}
			if strategy == nil {
				return nil
			}
			if err := strategy.WarmKey(gctx, key); err != nil {
				atomic.AddUint64(&w.warmFails, 1)
				w.logger.Debug("direct warmup failed",
					zap.String("key", key), zap.Error(err))
				return nil
			}
			atomic.AddUint64(&w.warmed, 1)
			return nil
		})
	}
	return g.Wait()
}

// =============================================================================
// 통계
// =============================================================================

// WarmupStats는 워밍 스케줄러 통계입니다.
type WarmupStats struct {
	Warmed          uint64 `json:"warmed"`
	Refreshed       uint64 `json:"refreshed"`
	Failures        uint64 `json:"failures"`
	PatternsPruned  uint64 `json:"patterns_pruned"`
	PatternsTracked int    `json:"patterns_tracked"`
	Strategies      int    `json:"strategies"`
}

// Stats는 현재 통계를 반환합니다.
func (w *WarmupScheduler) Stats() WarmupStats {
	w.mu.RLock()
	strategies := len(w.strategies)
	w.mu.RUnlock()

	return WarmupStats{
		Warmed:          atomic.LoadUint64(&w.warmed),
		Refreshed:       atomic.LoadUint64(&w.refreshed),
		Failures:        atomic.LoadUint64(&w.warmFails),
		PatternsPruned:  atomic.LoadUint64(&w.pruned),
		PatternsTracked: w.tracker.Len(),
		Strategies:      strategies,
	}
}
