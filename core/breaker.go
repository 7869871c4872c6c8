// 이 파일은 계층별 서킷 브레이커를 구현합니다.
package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// CircuitBreaker: 계층별 서킷 브레이커
// =============================================================================
// 각 계층은 독립적인 브레이커를 가집니다. 샘플링 윈도우 내 실패 수가
// 임계값에 도달하고 최소 처리량을 넘으면 서킷이 열립니다. 열린 동안의
// 호출은 즉시 거부되어 페일오버 체인으로 넘어갑니다. 차단 시간이 지나면
// 반개방 상태에서 단일 프로브만 통과시킵니다.
//
// 일시적 오류(연결/타임아웃)만 실패로 집계합니다. 검증 오류나
// 역직렬화 오류는 백엔드 장애가 아니므로 성공으로 취급합니다.
// =============================================================================

// CircuitState는 서킷 브레이커의 상태입니다.
type CircuitState int32

const (
	// StateClosed는 정상 상태입니다. 모든 호출이 통과합니다.
	StateClosed CircuitState = iota

	// StateOpen은 차단 상태입니다. 모든 호출이 즉시 거부됩니다.
	StateOpen

	// StateHalfOpen은 복구 시험 상태입니다. 단일 프로브만 통과합니다.
	StateHalfOpen
)

// String은 상태 이름을 반환합니다.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig는 단일 계층의 서킷 브레이커 설정입니다.
type BreakerConfig struct {
	// Enabled가 false면 브레이커는 항상 통과시킵니다.
	Enabled bool

	// FailureThreshold는 샘플링 윈도우 내 서킷을 여는 실패 수입니다.
	FailureThreshold int

	// MinimumThroughput은 서킷을 열기 위한 윈도우 내 최소 요청 수입니다.
	// 요청이 적을 때 한두 번의 실패로 서킷이 열리는 것을 막습니다.
	MinimumThroughput int

	// SamplingDuration은 실패 집계 윈도우의 길이입니다.
	SamplingDuration time.Duration

	// BreakDuration은 서킷이 열린 뒤 복구 시험까지의 차단 시간입니다.
	BreakDuration time.Duration

	// FailoverChain은 이 계층이 차단되었을 때 시도할 계층 순서입니다.
	FailoverChain []TierLevel
}

// DefaultFastBreakerConfig는 Fast 계층의 기본 설정입니다.
// 인메모리 계층은 연결 장애가 없으므로 브레이커를 사용하지 않습니다.
func DefaultFastBreakerConfig() *BreakerConfig {
	return &BreakerConfig{Enabled: false}
}

// DefaultDistributedBreakerConfig는 Distributed 계층의 기본 설정입니다.
// 차단 시 Durable 계층으로 페일오버합니다.
func DefaultDistributedBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Enabled:           true,
		FailureThreshold:  3,
		MinimumThroughput: 5,
		SamplingDuration:  120 * time.Second,
		BreakDuration:     60 * time.Second,
		FailoverChain:     []TierLevel{TierDurable},
	}
}

// DefaultDurableBreakerConfig는 Durable 계층의 기본 설정입니다.
// 마지막 계층이므로 페일오버 체인이 없습니다.
func DefaultDurableBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Enabled:           true,
		FailureThreshold:  2,
		MinimumThroughput: 2,
		SamplingDuration:  600 * time.Second,
		BreakDuration:     300 * time.Second,
	}
}

// outcome은 윈도우에 기록되는 단일 호출 결과입니다.
type outcome struct {
	at      time.Time
	failure bool
}

// CircuitBreaker는 단일 계층의 서킷 브레이커입니다.
type CircuitBreaker struct {
	name   string
	config *BreakerConfig

	// state는 현재 상태입니다. (atomic)
	state int32

	// openedAt은 서킷이 열린 시각입니다. (unix nano, atomic)
	openedAt int64

	// probing은 반개방 상태의 프로브 슬롯입니다. (atomic, 0 또는 1)
	probing int32

	// window는 샘플링 윈도우 내 호출 결과입니다.
	mu     sync.Mutex
	window []outcome

	// 누적 통계 (atomic)
	totalSuccesses uint64
	totalFailures  uint64
	totalRejected  uint64
	lastFailureAt  int64

	// onStateChange는 상태 전이 시 호출됩니다. (선택, 로깅용)
	onStateChange func(name string, from, to CircuitState)
}

// NewCircuitBreaker는 새로운 서킷 브레이커를 생성합니다.
func NewCircuitBreaker(name string, config *BreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultFastBreakerConfig()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  int32(StateClosed),
	}
}

// State는 현재 상태를 반환합니다.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}

// Allow는 호출 허용 여부를 판단합니다.
// 열린 서킷에서 차단 시간이 지났으면 반개방으로 전이하고 프로브 슬롯을
// 획득한 단 하나의 호출자만 true를 받습니다.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.config.Enabled {
		return true
	}

	switch cb.State() {
	case StateClosed:
		return true

	case StateOpen:
		openedAt := time.Unix(0, atomic.LoadInt64(&cb.openedAt))
		if time.Since(openedAt) < cb.config.BreakDuration {
			atomic.AddUint64(&cb.totalRejected, 1)
			return false
		}
		// 차단 시간 경과: 반개방으로 전이를 시도합니다.
		// CAS 승자만 프로브를 수행합니다.
		if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt32(&cb.probing, 1)
			cb.notify(StateOpen, StateHalfOpen)
			return true
		}
		atomic.AddUint64(&cb.totalRejected, 1)
		return false

	case StateHalfOpen:
		// 프로브가 이미 진행 중이면 거부합니다.
		if atomic.CompareAndSwapInt32(&cb.probing, 0, 1) {
			return true
		}
		atomic.AddUint64(&cb.totalRejected, 1)
		return false

	default:
		return false
	}
}

// Record는 호출 결과를 기록하고 필요한 상태 전이를 수행합니다.
// 일시적 오류만 실패로 집계합니다.
func (cb *CircuitBreaker) Record(err error) {
	if !cb.config.Enabled {
		return
	}

	if err == nil || !IsTransient(err) {
		cb.recordSuccess()
		return
	}
	cb.recordFailure()
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddUint64(&cb.totalSuccesses, 1)

	switch cb.State() {
	case StateHalfOpen:
		// 프로브 성공: 서킷을 닫고 윈도우를 초기화합니다.
		if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
			cb.mu.Lock()
			cb.window = cb.window[:0]
			cb.mu.Unlock()
			atomic.StoreInt32(&cb.probing, 0)
			cb.notify(StateHalfOpen, StateClosed)
		}

	case StateClosed:
		cb.mu.Lock()
		cb.appendOutcome(false)
		cb.mu.Unlock()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddUint64(&cb.totalFailures, 1)
	atomic.StoreInt64(&cb.lastFailureAt, time.Now().UnixNano())

	switch cb.State() {
	case StateHalfOpen:
		// 프로브 실패: 즉시 다시 열고 차단 시간을 재설정합니다.
		if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
			atomic.StoreInt64(&cb.openedAt, time.Now().UnixNano())
			atomic.StoreInt32(&cb.probing, 0)
			cb.notify(StateHalfOpen, StateOpen)
		}

	case StateClosed:
		cb.mu.Lock()
		cb.appendOutcome(true)
		failures, total := cb.windowCounts()
		cb.mu.Unlock()

		if failures >= cb.config.FailureThreshold && total >= cb.config.MinimumThroughput {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen)) {
				atomic.StoreInt64(&cb.openedAt, time.Now().UnixNano())
				cb.notify(StateClosed, StateOpen)
			}
		}
	}
}

// appendOutcome은 결과를 윈도우에 추가하고 오래된 항목을 제거합니다.
// 호출자가 mu를 보유해야 합니다.
func (cb *CircuitBreaker) appendOutcome(failure bool) {
	now := time.Now()
	cb.window = append(cb.window, outcome{at: now, failure: failure})

	cutoff := now.Add(-cb.config.SamplingDuration)
	idx := 0
	for idx < len(cb.window) && cb.window[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		cb.window = cb.window[idx:]
	}
}

// windowCounts는 윈도우 내 (실패 수, 전체 수)를 반환합니다.
// 호출자가 mu를 보유해야 합니다.
func (cb *CircuitBreaker) windowCounts() (failures, total int) {
	for _, o := range cb.window {
		if o.failure {
			failures++
		}
	}
	return failures, len(cb.window)
}

// ForceOpen은 서킷을 강제로 엽니다. (운영 개입용)
func (cb *CircuitBreaker) ForceOpen() {
	from := cb.State()
	atomic.StoreInt32(&cb.state, int32(StateOpen))
	atomic.StoreInt64(&cb.openedAt, time.Now().UnixNano())
	if from != StateOpen {
		cb.notify(from, StateOpen)
	}
}

// Reset은 서킷을 닫고 윈도우를 초기화합니다.
func (cb *CircuitBreaker) Reset() {
	from := cb.State()
	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.probing, 0)
	cb.mu.Lock()
	cb.window = cb.window[:0]
	cb.mu.Unlock()
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

// ReadyToProbe는 열린 서킷의 차단 시간이 지났는지 확인합니다.
// 복구 루프가 프로브를 보낼지 결정할 때 사용합니다.
func (cb *CircuitBreaker) ReadyToProbe() bool {
	if cb.State() != StateOpen {
		return false
	}
	openedAt := time.Unix(0, atomic.LoadInt64(&cb.openedAt))
	return time.Since(openedAt) >= cb.config.BreakDuration
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// BreakerSnapshot은 브레이커의 현재 상태 요약입니다.
type BreakerSnapshot struct {
	Name           string       `json:"name"`
	State          CircuitState `json:"state"`
	StateName      string       `json:"state_name"`
	WindowFailures int          `json:"window_failures"`
	WindowTotal    int          `json:"window_total"`
	TotalSuccesses uint64       `json:"total_successes"`
	TotalFailures  uint64       `json:"total_failures"`
	TotalRejected  uint64       `json:"total_rejected"`
	LastFailureAt  time.Time    `json:"last_failure_at,omitempty"`
	OpenedAt       time.Time    `json:"opened_at,omitempty"`
}

// Snapshot은 상태 요약을 반환합니다.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	failures, total := cb.windowCounts()
	cb.mu.Unlock()

	snap := BreakerSnapshot{
		Name:           cb.name,
		State:          cb.State(),
		StateName:      cb.State().String(),
		WindowFailures: failures,
		WindowTotal:    total,
		TotalSuccesses: atomic.LoadUint64(&cb.totalSuccesses),
		TotalFailures:  atomic.LoadUint64(&cb.totalFailures),
		TotalRejected:  atomic.LoadUint64(&cb.totalRejected),
	}

	if ns := atomic.LoadInt64(&cb.lastFailureAt); ns > 0 {
		snap.LastFailureAt = time.Unix(0, ns)
	}
	if ns := atomic.LoadInt64(&cb.openedAt); ns > 0 && snap.State != StateClosed {
		snap.OpenedAt = time.Unix(0, ns)
	}

	return snap
}
