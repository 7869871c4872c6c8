// 이 파일은 계층 오케스트레이터를 구현합니다.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// Orchestrator: 계층 오케스트레이터
// =============================================================================
// 등록된 계층을 빠른 순서로 조회하고, 하위 계층 히트를 상위 계층으로
// 승격하며, 계층별 서킷 브레이커와 페일오버 체인을 관리합니다.
//
// 읽기 경로: Fast → Distributed → Durable 순서로 조회. 서킷이 열린
// 계층은 건너뜁니다. 하위 계층 히트는 승격 지연 후 상위 계층에
// 비동기로 기록됩니다.
//
// 쓰기 경로: Fast 계층 쓰기 실패는 호출자에게 전파됩니다. (fail-closed)
// 하위 계층 쓰기 실패는 로깅만 합니다. TTL이 만료 백스톱 역할을 합니다.
// =============================================================================

// Compressor는 엔트리 값 압축을 추상화합니다.
// compression 패키지가 구현을 제공합니다.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// SetOptions는 단일 쓰기에 대한 선택 설정입니다.
type SetOptions struct {
	// TTL이 0이면 Options.DefaultTTL이 적용됩니다.
	TTL time.Duration

	// SlidingTTL이 0보다 크면 접근 시마다 만료가 연장됩니다.
	SlidingTTL time.Duration

	// Priority는 워밍 우선순위 힌트입니다.
	Priority int
}

// FailoverEvent는 페일오버 체인이 사용된 기록입니다.
type FailoverEvent struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Op   string    `json:"op"`
	Key  string    `json:"key"`
	At   time.Time `json:"at"`
}

// tierSlot은 등록된 계층과 그 브레이커의 쌍입니다.
type tierSlot struct {
	client  TierClient
	breaker *CircuitBreaker
}

// Orchestrator는 계층형 캐시의 읽기/쓰기/무효화를 조정합니다.
type Orchestrator struct {
	opts   *Options
	logger *zap.Logger

	mu      sync.RWMutex
	tiers   []*tierSlot
	byLevel map[TierLevel]*tierSlot

	prefixIdx  *PrefixIndex
	compressor Compressor

	// 최근 페일오버 기록 (최대 failoverHistorySize개)
	foMu      sync.Mutex
	failovers []FailoverEvent

	// 통계 (atomic)
	tierHits [3]uint64
	misses   uint64
	sets     uint64
	removes  uint64

	startedAt time.Time
	stopCh    chan struct{}
	closed    int32
	wg        sync.WaitGroup
}

const failoverHistorySize = 64

// NewOrchestrator는 새로운 오케스트레이터를 생성합니다.
// compressor가 nil이면 압축하지 않습니다.
func NewOrchestrator(opts *Options, compressor Compressor) *Orchestrator {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Orchestrator{
		opts:       opts,
		logger:     opts.Logger,
		byLevel:    make(map[TierLevel]*tierSlot),
		prefixIdx:  NewPrefixIndex(),
		compressor: compressor,
		stopCh:     make(chan struct{}),
	}
}

// AddTier는 계층을 등록합니다. 같은 계층을 두 번 등록하면 오류입니다.
func (o *Orchestrator) AddTier(client TierClient) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	level := client.Level()
	if _, exists := o.byLevel[level]; exists {
		return fmt.Errorf("tier %s already registered", level)
	}

	config, ok := o.opts.Breakers[level]
	if !ok {
		config = DefaultFastBreakerConfig()
	}

	breaker := NewCircuitBreaker(client.Name(), config)
	breaker.onStateChange = func(name string, from, to CircuitState) {
		o.logger.Warn("circuit state changed",
			zap.String("tier", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	slot := &tierSlot{client: client, breaker: breaker}
	o.byLevel[level] = slot
	o.tiers = append(o.tiers, slot)
	sort.Slice(o.tiers, func(i, j int) bool {
		return o.tiers[i].client.Level() < o.tiers[j].client.Level()
	})

	return nil
}

// Start는 모든 계층에 연결하고 복구 프로브 루프를 시작합니다.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	if len(tiers) == 0 {
		return errors.New("no tiers registered")
	}

	for _, slot := range tiers {
		if err := slot.client.Connect(ctx); err != nil {
			return &TierError{Tier: slot.client.Name(), Op: "connect", Err: err}
		}
	}

	o.startedAt = time.Now()

	o.wg.Add(1)
	go o.recoveryLoop()

	return nil
}

// Close는 승격 고루틴을 기다린 뒤 모든 계층 연결을 종료합니다.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&o.closed, 0, 1) {
		return nil
	}
	close(o.stopCh)
	o.wg.Wait()

	var errs []error
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, slot := range o.tiers {
		if err := slot.client.Close(ctx); err != nil {
			errs = append(errs, &TierError{Tier: slot.client.Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 읽기 경로
// =============================================================================

// Get은 계층을 순서대로 조회합니다.
// 키가 어느 계층에도 없으면 (nil, false, nil)을 반환합니다.
// 하위 계층 히트는 승격 지연 후 상위 계층으로 비동기 승격됩니다.
func (o *Orchestrator) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	if atomic.LoadInt32(&o.closed) == 1 {
		return nil, false, ErrClosed
	}

	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	for i, slot := range tiers {
		if !slot.breaker.Allow() {
			continue
		}

		entry, found, err := slot.client.Get(ctx, key)
		slot.breaker.Record(err)
		if err != nil {
			o.logger.Warn("tier get failed",
				zap.String("tier", slot.client.Name()),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		entry.Touch()

		value, derr := o.decompress(entry)
		if derr != nil {
			// 손상된 엔트리는 미스로 취급하고 제거합니다.
			o.logger.Warn("entry decompression failed, treating as miss",
				zap.String("tier", slot.client.Name()),
				zap.String("key", key),
				zap.Error(derr))
			_, _ = slot.client.Remove(ctx, key)
			continue
		}

		atomic.AddUint64(&o.tierHits[slot.client.Level()], 1)

		if i > 0 {
			o.schedulePromotion(entry, slot.client.Level())
		}

		result := entry.Clone()
		result.Value = value
		result.Compressed = false
		result.CompressionType = ""
		return result, true, nil
	}

	atomic.AddUint64(&o.misses, 1)
	return nil, false, nil
}

// schedulePromotion은 승격 지연 후 엔트리를 상위 계층에 기록합니다.
// 일회성 접근이 상위 계층을 오염시키지 않도록 즉시 승격하지 않습니다.
func (o *Orchestrator) schedulePromotion(entry *Entry, hitLevel TierLevel) {
	promoted := entry.Clone()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		timer := time.NewTimer(o.opts.PromotionDelay)
		defer timer.Stop()

		select {
		case <-o.stopCh:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		o.mu.RLock()
		tiers := o.tiers
		o.mu.RUnlock()

		for _, slot := range tiers {
			if slot.client.Level() >= hitLevel {
				break
			}
			if !slot.breaker.Allow() {
				continue
			}
			err := slot.client.Set(ctx, promoted.Clone())
			slot.breaker.Record(err)
			if err != nil {
				o.logger.Debug("promotion failed",
					zap.String("tier", slot.client.Name()),
					zap.String("key", promoted.Key),
					zap.Error(err))
				continue
			}
			if slot.client.Level() == TierFast {
				o.prefixIdx.Add(promoted.Key)
			}
		}
	}()
}

// =============================================================================
// 쓰기 경로
// =============================================================================

// Set은 값을 모든 활성 계층에 기록합니다.
// Fast 계층과 의존 규칙 적용 실패는 전파되고, 하위 계층 실패는
// 로깅만 합니다. value는 이미 직렬화된 바이트여야 합니다.
func (o *Orchestrator) Set(ctx context.Context, key string, value []byte, entityType string, setOpts *SetOptions) error {
	if key == "" {
		return ErrEmptyKey
	}
	if atomic.LoadInt32(&o.closed) == 1 {
		return ErrClosed
	}

	if setOpts == nil {
		setOpts = &SetOptions{}
	}
	ttl := setOpts.TTL
	if ttl == 0 {
		ttl = o.opts.DefaultTTL
	}

	entry := NewEntry(key, value, entityType, ttl)
	entry.SlidingTTL = setOpts.SlidingTTL
	entry.Priority = setOpts.Priority

	if err := o.compress(entry); err != nil {
		// 압축 실패는 치명적이지 않습니다. 원본을 그대로 저장합니다.
		o.logger.Warn("compression failed, storing uncompressed",
			zap.String("key", key), zap.Error(err))
	}

	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	for _, slot := range tiers {
		level := slot.client.Level()

		if level == TierFast {
			if err := o.callWithFailover(ctx, slot, "set", key, func(c TierClient) error {
				return c.Set(ctx, entry.Clone())
			}); err != nil {
				return err
			}
			o.prefixIdx.Add(key)
			continue
		}

		if err := o.callWithFailover(ctx, slot, "set", key, func(c TierClient) error {
			return c.Set(ctx, entry.Clone())
		}); err != nil {
			o.logger.Warn("lower tier set failed",
				zap.String("tier", slot.client.Name()),
				zap.String("key", key),
				zap.Error(err))
		}
	}

	atomic.AddUint64(&o.sets, 1)

	return o.applyDependencyRules(ctx, key, entityType)
}

// applyDependencyRules는 엔터티 유형의 쓰기 시 무효화 규칙을 적용합니다.
// 규칙 적용 실패는 전파됩니다. 오래된 파생 데이터를 남기지 않기 위함입니다.
func (o *Orchestrator) applyDependencyRules(ctx context.Context, key, entityType string) error {
	patterns := o.opts.DependencyRules[entityType]
	if len(patterns) == 0 {
		return nil
	}

	var errs []error
	for _, pattern := range patterns {
		target := expandRulePattern(pattern, key)
		if IsPrefixKey(target) {
			if _, err := o.RemoveByPrefix(ctx, TrimPrefixKey(target)); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := o.Remove(ctx, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// expandRulePattern은 규칙 패턴의 "{key}" 자리표시자를 실제 키로 치환합니다.
func expandRulePattern(pattern, key string) string {
	return strings.ReplaceAll(pattern, "{key}", key)
}

// =============================================================================
// 삭제 경로
// =============================================================================

// Remove는 키를 모든 활성 계층에서 삭제합니다.
// 키가 없는 계층은 오류가 아니므로 삭제는 멱등합니다.
func (o *Orchestrator) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	var errs []error
	for _, slot := range tiers {
		err := o.callWithFailover(ctx, slot, "remove", key, func(c TierClient) error {
			_, rerr := c.Remove(ctx, key)
			return rerr
		})
		if err != nil {
			errs = append(errs, &TierError{Tier: slot.client.Name(), Op: "remove", Key: key, Err: err})
			continue
		}
		if slot.client.Level() == TierFast {
			o.prefixIdx.Remove(key)
		}
	}

	atomic.AddUint64(&o.removes, 1)
	return errors.Join(errs...)
}

// RemoveByPrefix는 접두사와 일치하는 키를 모든 계층에서 삭제합니다.
// Fast 계층은 역색인으로, 나머지 계층은 백엔드의 접두사 삭제로 처리합니다.
// 삭제된 키 수의 최댓값을 반환합니다.
func (o *Orchestrator) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyKey
	}

	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	maxRemoved := 0
	var errs []error

	for _, slot := range tiers {
		if slot.client.Level() == TierFast {
			keys := o.prefixIdx.KeysWithPrefix(prefix)
			removed := 0
			for _, k := range keys {
				ok, err := slot.client.Remove(ctx, k)
				if err != nil {
					errs = append(errs, &TierError{Tier: slot.client.Name(), Op: "remove", Key: k, Err: err})
					continue
				}
				o.prefixIdx.Remove(k)
				if ok {
					removed++
				}
			}
			if removed > maxRemoved {
				maxRemoved = removed
			}
			continue
		}

		var removed int
		err := o.callWithFailover(ctx, slot, "remove_prefix", prefix, func(c TierClient) error {
			var rerr error
			removed, rerr = c.RemoveByPrefix(ctx, prefix)
			return rerr
		})
		if err != nil {
			errs = append(errs, &TierError{Tier: slot.client.Name(), Op: "remove_prefix", Key: prefix, Err: err})
			continue
		}
		if removed > maxRemoved {
			maxRemoved = removed
		}
	}

	return maxRemoved, errors.Join(errs...)
}

// Invalidate는 무효화 이벤트를 모든 계층에 적용합니다.
// 기본 키와 모든 의존 키를 삭제합니다. 멱등한 연산입니다.
func (o *Orchestrator) Invalidate(ctx context.Context, event *InvalidationEvent) error {
	if event == nil || event.Key == "" {
		return ErrEmptyKey
	}

	var errs []error

	if IsPrefixKey(event.Key) {
		if _, err := o.RemoveByPrefix(ctx, TrimPrefixKey(event.Key)); err != nil {
			errs = append(errs, err)
		}
	} else if err := o.Remove(ctx, event.Key); err != nil {
		errs = append(errs, err)
	}

	for _, dep := range event.DependentKeys {
		if IsPrefixKey(dep) {
			if _, err := o.RemoveByPrefix(ctx, TrimPrefixKey(dep)); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := o.Remove(ctx, dep); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// =============================================================================
// 서킷 브레이커 / 페일오버
// =============================================================================

// callWithFailover는 계층 호출을 브레이커를 통해 실행하고, 거부되거나
// 일시적 오류가 발생하면 페일오버 체인을 순서대로 시도합니다.
func (o *Orchestrator) callWithFailover(ctx context.Context, slot *tierSlot, op, key string, fn func(TierClient) error) error {
	visited := map[TierLevel]bool{slot.client.Level(): true}
	return o.tryTier(ctx, slot, op, key, fn, visited)
}

func (o *Orchestrator) tryTier(ctx context.Context, slot *tierSlot, op, key string, fn func(TierClient) error, visited map[TierLevel]bool) error {
	if !slot.breaker.Allow() {
		return o.failover(ctx, slot, op, key, fn, visited, ErrCircuitOpen)
	}

	err := fn(slot.client)
	slot.breaker.Record(err)

	if err != nil && IsTransient(err) {
		return o.failover(ctx, slot, op, key, fn, visited, err)
	}
	return err
}

// failover는 체인의 다음 계층을 시도합니다. 체인이 없거나 모두 실패하면
// 원인 오류를 반환합니다.
func (o *Orchestrator) failover(ctx context.Context, slot *tierSlot, op, key string, fn func(TierClient) error, visited map[TierLevel]bool, cause error) error {
	chain := slot.breaker.config.FailoverChain

	for _, next := range chain {
		if visited[next] {
			continue
		}
		visited[next] = true

		o.mu.RLock()
		nextSlot, ok := o.byLevel[next]
		o.mu.RUnlock()
		if !ok {
			continue
		}

		o.recordFailover(slot.client.Name(), nextSlot.client.Name(), op, key)

		if err := o.tryTier(ctx, nextSlot, op, key, fn, visited); err == nil {
			return nil
		}
	}

	return cause
}

func (o *Orchestrator) recordFailover(from, to, op, key string) {
	o.logger.Info("failover",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("op", op),
		zap.String("key", key))

	o.foMu.Lock()
	defer o.foMu.Unlock()

	o.failovers = append(o.failovers, FailoverEvent{
		From: from, To: to, Op: op, Key: key, At: time.Now(),
	})
	if len(o.failovers) > failoverHistorySize {
		o.failovers = o.failovers[len(o.failovers)-failoverHistorySize:]
	}
}

// RecentFailovers는 최근 페일오버 기록의 복사본을 반환합니다.
func (o *Orchestrator) RecentFailovers() []FailoverEvent {
	o.foMu.Lock()
	defer o.foMu.Unlock()

	result := make([]FailoverEvent, len(o.failovers))
	copy(result, o.failovers)
	return result
}

// recoveryLoop은 열린 서킷에 주기적으로 복구 프로브를 보냅니다.
// 프로브는 계층의 Health 호출이며, 반개방 상태의 단일 슬롯을 사용합니다.
func (o *Orchestrator) recoveryLoop() {
	defer o.wg.Done()

	interval := o.opts.RecoveryInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.probeOpenCircuits()
		}
	}
}

func (o *Orchestrator) probeOpenCircuits() {
	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	for _, slot := range tiers {
		if !slot.breaker.ReadyToProbe() {
			continue
		}
		if !slot.breaker.Allow() {
			// 다른 호출자가 먼저 프로브 슬롯을 가져갔습니다.
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		health, err := slot.client.Health(ctx)
		cancel()

		if err == nil && health != nil && !health.Healthy {
			err = MarkTransient(fmt.Errorf("tier %s unhealthy: %s", slot.client.Name(), health.Message))
		}
		slot.breaker.Record(err)

		if err != nil {
			o.logger.Warn("recovery probe failed",
				zap.String("tier", slot.client.Name()),
				zap.Error(err))
		} else {
			o.logger.Info("recovery probe succeeded",
				zap.String("tier", slot.client.Name()))
		}
	}
}

// =============================================================================
// 압축
// =============================================================================

// compress는 임계값을 넘는 엔트리 값을 제자리에서 압축합니다.
func (o *Orchestrator) compress(entry *Entry) error {
	if o.compressor == nil || o.opts.CompressionThreshold <= 0 {
		return nil
	}
	if len(entry.Value) < o.opts.CompressionThreshold {
		return nil
	}

	compressed, err := o.compressor.Compress(entry.Value)
	if err != nil {
		return err
	}
	// 압축해도 줄지 않으면 원본을 유지합니다.
	if len(compressed) >= len(entry.Value) {
		return nil
	}

	entry.Value = compressed
	entry.Compressed = true
	entry.CompressionType = o.compressor.Name()
	return nil
}

// decompress는 엔트리 값을 복원하여 반환합니다. 엔트리는 수정하지 않습니다.
func (o *Orchestrator) decompress(entry *Entry) ([]byte, error) {
	if !entry.Compressed {
		return entry.Value, nil
	}
	if o.compressor == nil {
		return nil, fmt.Errorf("entry %q is compressed with %s but no compressor is configured",
			entry.Key, entry.CompressionType)
	}
	return o.compressor.Decompress(entry.Value)
}

// =============================================================================
// 통계
// =============================================================================

// TierStats는 단일 계층의 통계입니다.
type TierStats struct {
	Name    string          `json:"name"`
	Level   TierLevel       `json:"level"`
	Hits    uint64          `json:"hits"`
	Breaker BreakerSnapshot `json:"breaker"`
}

// OrchestratorStats는 오케스트레이터 전체 통계입니다.
type OrchestratorStats struct {
	Tiers   []TierStats   `json:"tiers"`
	Misses  uint64        `json:"misses"`
	Sets    uint64        `json:"sets"`
	Removes uint64        `json:"removes"`
	HitRate float64       `json:"hit_rate"`
	Uptime  time.Duration `json:"uptime"`
}

// Stats는 현재 통계의 스냅샷을 반환합니다.
func (o *Orchestrator) Stats() OrchestratorStats {
	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	stats := OrchestratorStats{
		Misses:  atomic.LoadUint64(&o.misses),
		Sets:    atomic.LoadUint64(&o.sets),
		Removes: atomic.LoadUint64(&o.removes),
	}
	if !o.startedAt.IsZero() {
		stats.Uptime = time.Since(o.startedAt)
	}

	var totalHits uint64
	for _, slot := range tiers {
		level := slot.client.Level()
		hits := atomic.LoadUint64(&o.tierHits[level])
		totalHits += hits
		stats.Tiers = append(stats.Tiers, TierStats{
			Name:    slot.client.Name(),
			Level:   level,
			Hits:    hits,
			Breaker: slot.breaker.Snapshot(),
		})
	}

	if total := totalHits + stats.Misses; total > 0 {
		stats.HitRate = float64(totalHits) / float64(total)
	}
	return stats
}

// TierHealthChecks는 각 계층의 상태 점검 결과를 반환합니다.
func (o *Orchestrator) TierHealthChecks(ctx context.Context) map[string]*TierHealth {
	o.mu.RLock()
	tiers := o.tiers
	o.mu.RUnlock()

	result := make(map[string]*TierHealth, len(tiers))
	for _, slot := range tiers {
		start := time.Now()
		health, err := slot.client.Health(ctx)
		if err != nil {
			health = &TierHealth{Healthy: false, Message: err.Error()}
		}
		if health.Latency == 0 {
			health.Latency = time.Since(start)
		}
		result[slot.client.Name()] = health
	}
	return result
}
