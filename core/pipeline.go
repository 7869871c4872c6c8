// 이 파일은 비동기 무효화 파이프라인을 구현합니다.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// Pipeline: 비동기 무효화 파이프라인
// =============================================================================
// 무효화 이벤트를 유한 큐에 모아 워커 풀이 배치로 처리합니다.
// 큐가 가득 차면 Enqueue가 블록됩니다. 생산자 컨텍스트 취소로만
// 포기할 수 있습니다. 이벤트를 버리는 것보다 역압이 낫습니다.
//
// 각 이벤트는 의존성 그래프에서 정확히 한 홉 확장됩니다. 처리 실패는
// 지수 백오프로 재시도되고, 재시도를 소진한 이벤트는 데드레터 큐로
// 이동하여 수동 재처리를 기다립니다.
// =============================================================================

// Invalidator는 파이프라인이 이벤트를 적용할 대상입니다.
// Orchestrator가 구현합니다.
type Invalidator interface {
	Invalidate(ctx context.Context, event *InvalidationEvent) error
}

// Pipeline은 비동기 배치 무효화 파이프라인입니다.
type Pipeline struct {
	config  PipelineConfig
	inv     Invalidator
	graph   *DependencyGraph
	tracker *PatternTracker
	logger  *zap.Logger

	queue chan *InvalidationEvent
	sem   *semaphore.Weighted

	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	// 데드레터 큐
	dlMu        sync.Mutex
	deadLetters []DeadLetterEntry

	// 통계 (atomic)
	enqueued     uint64
	processed    uint64
	failed       uint64
	retried      uint64
	deadLettered uint64
	dropped      uint64
}

// NewPipeline은 새로운 무효화 파이프라인을 생성합니다.
// tracker는 nil일 수 있습니다.
func NewPipeline(config PipelineConfig, inv Invalidator, graph *DependencyGraph, tracker *PatternTracker, logger *zap.Logger) *Pipeline {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 10000
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 1 * time.Second
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 100 * time.Millisecond
	}
	if config.DeadLetterCapacity <= 0 {
		config.DeadLetterCapacity = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if graph == nil {
		graph = NewDependencyGraph()
	}

	return &Pipeline{
		config:  config,
		inv:     inv,
		graph:   graph,
		tracker: tracker,
		logger:  logger,
		queue:   make(chan *InvalidationEvent, config.QueueCapacity),
		sem:     semaphore.NewWeighted(int64(config.Concurrency)),
	}
}

// Start는 워커 풀을 시작합니다.
func (p *Pipeline) Start() {
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Graph는 의존성 그래프를 반환합니다.
func (p *Pipeline) Graph() *DependencyGraph {
	return p.graph
}

// Enqueue는 이벤트를 큐에 넣습니다. 큐가 가득 차면 블록됩니다.
// ctx 취소 시 ctx의 오류를, 파이프라인이 닫혔으면 ErrPipelineClosed를
// 반환합니다.
func (p *Pipeline) Enqueue(ctx context.Context, event *InvalidationEvent) error {
	if event == nil || event.Key == "" {
		return ErrEmptyKey
	}

	// Close와의 경합을 막기 위해 전송하는 동안 읽기 락을 유지합니다.
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		return ErrPipelineClosed
	}

	select {
	case p.queue <- event:
		atomic.AddUint64(&p.enqueued, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close는 신규 이벤트 수용을 중단하고 큐에 남은 이벤트를 모두 처리한 뒤
// 반환합니다. ctx가 먼저 만료되면 ctx의 오류를 반환합니다.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// 워커
// =============================================================================

// worker는 큐에서 이벤트를 배치로 모아 처리합니다.
// 배치는 BatchSize에 도달하거나 BatchTimeout이 지나면 처리됩니다.
func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		event, ok := <-p.queue
		if !ok {
			return
		}

		batch := make([]*InvalidationEvent, 1, p.config.BatchSize)
		batch[0] = event

		timer := time.NewTimer(p.config.BatchTimeout)
	fill:
		for len(batch) < p.config.BatchSize {
			select {
			case event, ok := <-p.queue:
				if !ok {
					break fill
				}
				batch = append(batch, event)
			case <-timer.C:
				break fill
			}
		}
		timer.Stop()

		p.processBatch(batch)
	}
}

// processBatch는 배치의 각 이벤트를 독립적으로 처리합니다.
// 한 이벤트의 실패가 배치의 나머지를 막지 않습니다. 동시 처리량은
// 세마포어로 제한됩니다.
func (p *Pipeline) processBatch(batch []*InvalidationEvent) {
	var wg sync.WaitGroup
	for _, event := range batch {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		wg.Add(1)
		go func(ev *InvalidationEvent) {
			defer wg.Done()
			defer p.sem.Release(1)
			p.processEvent(ev)
		}(event)
	}
	wg.Wait()
}

// processEvent는 이벤트를 한 홉 확장하고 재시도와 함께 적용합니다.
func (p *Pipeline) processEvent(event *InvalidationEvent) {
	expanded := p.expandOnce(event)

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		expanded.attempts = attempt

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.inv.Invalidate(ctx, expanded)
		cancel()

		if err == nil {
			atomic.AddUint64(&p.processed, 1)
			if p.tracker != nil {
				p.tracker.Forget(expanded.Key)
			}
			return
		}

		atomic.AddUint64(&p.failed, 1)
		p.logger.Warn("invalidation attempt failed",
			zap.String("key", expanded.Key),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == p.config.MaxRetries {
			p.addDeadLetter(expanded, err)
			return
		}

		atomic.AddUint64(&p.retried, 1)
		backoff := p.config.RetryBaseDelay * (1 << uint(attempt))
		time.Sleep(backoff)
	}
}

// expandOnce는 기본 키와 이벤트에 명시된 의존 키 각각을 의존성
// 그래프에서 정확히 한 홉 확장한 이벤트를 반환합니다. 그래프에서
// 새로 발견된 키의 의존 키는 따라가지 않습니다.
func (p *Pipeline) expandOnce(event *InvalidationEvent) *InvalidationEvent {
	seen := make(map[string]struct{}, len(event.DependentKeys)*2)
	merged := make([]string, 0, len(event.DependentKeys)*2)
	add := func(keys []string) {
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				merged = append(merged, k)
			}
		}
	}

	add(event.DependentKeys)
	add(p.graph.DependentsOf(event.Key))
	for _, k := range event.DependentKeys {
		add(p.graph.DependentsOf(k))
	}

	expanded := *event
	expanded.DependentKeys = merged
	return &expanded
}

// =============================================================================
// 데드레터 큐
// =============================================================================

// addDeadLetter는 재시도를 소진한 이벤트를 데드레터 큐에 넣습니다.
// 용량을 넘으면 가장 오래된 항목부터 버립니다.
func (p *Pipeline) addDeadLetter(event *InvalidationEvent, cause error) {
	atomic.AddUint64(&p.deadLettered, 1)
	p.logger.Error("invalidation moved to dead letter queue",
		zap.String("key", event.Key),
		zap.Int("attempts", event.attempts+1),
		zap.Error(cause))

	p.dlMu.Lock()
	defer p.dlMu.Unlock()

	p.deadLetters = append(p.deadLetters, DeadLetterEntry{
		Event:    event,
		FailedAt: time.Now(),
		LastErr:  cause.Error(),
	})
	if len(p.deadLetters) > p.config.DeadLetterCapacity {
		over := len(p.deadLetters) - p.config.DeadLetterCapacity
		for _, evicted := range p.deadLetters[:over] {
			p.logger.Error("dead letter evicted: queue at capacity",
				zap.String("key", evicted.Event.Key),
				zap.Time("failed_at", evicted.FailedAt),
				zap.String("last_error", evicted.LastErr))
		}
		p.deadLetters = p.deadLetters[over:]
		atomic.AddUint64(&p.dropped, uint64(over))
	}
}

// DeadLetters는 데드레터 큐의 복사본을 반환합니다.
func (p *Pipeline) DeadLetters() []DeadLetterEntry {
	p.dlMu.Lock()
	defer p.dlMu.Unlock()

	result := make([]DeadLetterEntry, len(p.deadLetters))
	copy(result, p.deadLetters)
	return result
}

// ReplayDeadLetters는 데드레터 큐에서 최대 limit개를 꺼내 다시 큐에
// 넣습니다. 다시 넣은 개수를 반환합니다. limit이 0 이하이면 전부
// 재처리합니다.
func (p *Pipeline) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	p.dlMu.Lock()
	if limit <= 0 || limit > len(p.deadLetters) {
		limit = len(p.deadLetters)
	}
	entries := p.deadLetters[:limit]
	p.deadLetters = p.deadLetters[limit:]
	p.dlMu.Unlock()

	replayed := 0
	for _, entry := range entries {
		event := *entry.Event
		event.Source = "replay"
		event.attempts = 0
		if err := p.Enqueue(ctx, &event); err != nil {
			// 실패한 나머지는 데드레터 큐에 되돌립니다.
			p.dlMu.Lock()
			p.deadLetters = append(entries[replayed:], p.deadLetters...)
			p.dlMu.Unlock()
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

// =============================================================================
// 통계
// =============================================================================

// PipelineStats는 파이프라인 통계입니다.
type PipelineStats struct {
	Enqueued     uint64 `json:"enqueued"`
	Processed    uint64 `json:"processed"`
	Failed       uint64 `json:"failed"`
	Retried      uint64 `json:"retried"`
	DeadLettered uint64 `json:"dead_lettered"`
	Dropped      uint64 `json:"dropped"`
	QueueDepth   int    `json:"queue_depth"`
	DeadLetters  int    `json:"dead_letters"`
}

// Stats는 현재 통계를 반환합니다.
func (p *Pipeline) Stats() PipelineStats {
	p.dlMu.Lock()
	dlCount := len(p.deadLetters)
	p.dlMu.Unlock()

	return PipelineStats{
		Enqueued:     atomic.LoadUint64(&p.enqueued),
		Processed:    atomic.LoadUint64(&p.processed),
		Failed:       atomic.LoadUint64(&p.failed),
		Retried:      atomic.LoadUint64(&p.retried),
		DeadLettered: atomic.LoadUint64(&p.deadLettered),
		Dropped:      atomic.LoadUint64(&p.dropped),
		QueueDepth:   len(p.queue),
		DeadLetters:  dlCount,
	}
}
