// 이 파일은 캐시 설정과 함수형 옵션을 정의합니다.
package core

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// Options: 캐시 전역 설정
// =============================================================================
// 모든 구성 요소의 기본값은 여기에 모여 있습니다. 함수형 옵션으로
// 필요한 값만 덮어씁니다.
// =============================================================================

// Options는 계층형 캐시의 전역 설정입니다.
type Options struct {
	// DefaultTTL은 TTL을 지정하지 않은 쓰기에 적용되는 기본 TTL입니다.
	DefaultTTL time.Duration

	// PromotionDelay는 하위 계층 히트 후 상위 계층 승격까지의 지연입니다.
	// 일회성 접근이 상위 계층을 오염시키는 것을 줄입니다.
	PromotionDelay time.Duration

	// CompressionThreshold보다 큰 값만 압축됩니다. 0이면 압축하지 않습니다.
	CompressionThreshold int

	// CompressionType은 압축 알고리즘입니다. ("s2", "zstd", "gzip")
	CompressionType string

	// Breakers는 계층별 서킷 브레이커 설정입니다.
	Breakers map[TierLevel]*BreakerConfig

	// RecoveryInterval은 열린 서킷의 복구 프로브 점검 주기입니다.
	RecoveryInterval time.Duration

	// Pipeline은 무효화 파이프라인 설정입니다.
	Pipeline PipelineConfig

	// Warmup은 워밍 스케줄러 설정입니다.
	Warmup WarmupConfig

	// DependencyRules는 엔터티 유형별 쓰기 시 무효화 규칙입니다.
	// 패턴의 "{key}"는 쓰인 키로 치환되고, "*"로 끝나면 접두사 삭제입니다.
	DependencyRules map[string][]string

	// Logger는 구조화 로거입니다. nil이면 zap.NewNop()이 사용됩니다.
	Logger *zap.Logger
}

// PipelineConfig는 무효화 파이프라인 설정입니다.
type PipelineConfig struct {
	// QueueCapacity는 이벤트 큐 용량입니다. 가득 차면 Enqueue가 블록됩니다.
	QueueCapacity int

	// Concurrency는 워커 수입니다. 0이면 CPU 수를 사용합니다.
	Concurrency int

	// BatchSize는 배치당 최대 이벤트 수입니다.
	BatchSize int

	// BatchTimeout은 배치가 다 차지 않아도 처리하는 대기 시간입니다.
	BatchTimeout time.Duration

	// MaxRetries는 이벤트당 최대 재시도 횟수입니다.
	MaxRetries int

	// RetryBaseDelay는 지수 백오프의 기준 지연입니다.
	// n번째 재시도는 RetryBaseDelay * 2^n 만큼 대기합니다.
	RetryBaseDelay time.Duration

	// DeadLetterCapacity는 데드레터 큐의 최대 크기입니다.
	// 초과하면 가장 오래된 항목부터 버립니다.
	DeadLetterCapacity int
}

// WarmupConfig는 워밍 스케줄러 설정입니다.
type WarmupConfig struct {
	// PredictiveInterval은 예측 워밍 주기입니다.
	PredictiveInterval time.Duration

	// PredictiveHitRate 미만이면서 PredictiveMinAccess를 초과한 키가
	// 예측 워밍 후보가 됩니다.
	PredictiveHitRate   float64
	PredictiveMinAccess uint64

	// PredictiveLimit은 예측 패스당 최대 키 수입니다.
	PredictiveLimit int

	// IntelligentInterval은 지능형 갱신 주기입니다.
	IntelligentInterval time.Duration

	// IntelligentWindow 내에 접근되고 IntelligentHitRate를 초과하며
	// IntelligentMinAccess를 초과한 키가 갱신 후보가 됩니다.
	IntelligentWindow    time.Duration
	IntelligentHitRate   float64
	IntelligentMinAccess uint64

	// IntelligentLimit은 지능형 패스당 최대 키 수입니다.
	IntelligentLimit int

	// AnalysisInterval은 접근 패턴 정리 주기입니다.
	AnalysisInterval time.Duration

	// PruneAfter 이상 유휴 상태이고 접근 횟수가 PruneMaxAccess 이하인
	// 패턴은 분석 패스에서 제거됩니다.
	PruneAfter     time.Duration
	PruneMaxAccess uint64

	// MaxConcurrency는 전체 워밍 작업의 동시 실행 한도입니다.
	// 모든 전략이 이 한도를 공유합니다.
	MaxConcurrency int64
}

// DefaultOptions는 기본 설정을 반환합니다.
func DefaultOptions() *Options {
	return &Options{
		DefaultTTL:           15 * time.Minute,
		PromotionDelay:       50 * time.Millisecond,
		CompressionThreshold: 1024,
		CompressionType:      "s2",
		Breakers: map[TierLevel]*BreakerConfig{
			TierFast:        DefaultFastBreakerConfig(),
			TierDistributed: DefaultDistributedBreakerConfig(),
			TierDurable:     DefaultDurableBreakerConfig(),
		},
		RecoveryInterval: 10 * time.Second,
		Pipeline: PipelineConfig{
			QueueCapacity:      10000,
			Concurrency:        runtime.NumCPU(),
			BatchSize:          100,
			BatchTimeout:       1 * time.Second,
			MaxRetries:         3,
			RetryBaseDelay:     100 * time.Millisecond,
			DeadLetterCapacity: 1000,
		},
		Warmup: WarmupConfig{
			PredictiveInterval:   5 * time.Minute,
			PredictiveHitRate:    0.8,
			PredictiveMinAccess:  5,
			PredictiveLimit:      100,
			IntelligentInterval:  10 * time.Minute,
			IntelligentWindow:    2 * time.Hour,
			IntelligentHitRate:   0.5,
			IntelligentMinAccess: 3,
			IntelligentLimit:     50,
			AnalysisInterval:     1 * time.Hour,
			PruneAfter:           24 * time.Hour,
			PruneMaxAccess:       10,
			MaxConcurrency:       10,
		},
		DependencyRules: make(map[string][]string),
		Logger:          zap.NewNop(),
	}
}

// =============================================================================
// 함수형 옵션
// =============================================================================

// Option은 Options를 수정하는 함수입니다.
type Option func(*Options)

// WithDefaultTTL은 기본 TTL을 설정합니다.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *Options) { o.DefaultTTL = ttl }
}

// WithPromotionDelay는 승격 지연을 설정합니다.
func WithPromotionDelay(d time.Duration) Option {
	return func(o *Options) { o.PromotionDelay = d }
}

// WithCompression은 압축 알고리즘과 임계값을 설정합니다.
func WithCompression(compressionType string, threshold int) Option {
	return func(o *Options) {
		o.CompressionType = compressionType
		o.CompressionThreshold = threshold
	}
}

// WithoutCompression은 압축을 비활성화합니다.
func WithoutCompression() Option {
	return func(o *Options) { o.CompressionThreshold = 0 }
}

// WithBreaker는 특정 계층의 서킷 브레이커 설정을 교체합니다.
func WithBreaker(level TierLevel, config *BreakerConfig) Option {
	return func(o *Options) { o.Breakers[level] = config }
}

// WithRecoveryInterval은 복구 프로브 점검 주기를 설정합니다.
func WithRecoveryInterval(d time.Duration) Option {
	return func(o *Options) { o.RecoveryInterval = d }
}

// WithPipeline은 무효화 파이프라인 설정을 교체합니다.
func WithPipeline(config PipelineConfig) Option {
	return func(o *Options) { o.Pipeline = config }
}

// WithWarmup은 워밍 스케줄러 설정을 교체합니다.
func WithWarmup(config WarmupConfig) Option {
	return func(o *Options) { o.Warmup = config }
}

// WithDependencyRule은 엔터티 유형에 대한 쓰기 시 무효화 규칙을 추가합니다.
// 패턴 예: "perms:user:{key}", "group:*"
func WithDependencyRule(entityType string, patterns ...string) Option {
	return func(o *Options) {
		o.DependencyRules[entityType] = append(o.DependencyRules[entityType], patterns...)
	}
}

// WithLogger는 구조화 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}
