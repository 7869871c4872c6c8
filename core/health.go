// 이 파일은 캐시 전체 상태 보고서를 구성합니다.
package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// HealthReport: 종합 상태 보고서
// =============================================================================
// 운영 진단용 스냅샷입니다. 계층별 상태와 브레이커, 파이프라인,
// 워밍 통계를 모으고 단순한 휴리스틱으로 권고 사항을 덧붙입니다.
// =============================================================================

// HealthReport는 캐시 서브시스템의 종합 상태입니다.
type HealthReport struct {
	// Healthy는 모든 계층이 정상이고 열린 서킷이 없는지 여부입니다.
	Healthy bool `json:"healthy"`

	// GeneratedAt은 보고서 생성 시각입니다.
	GeneratedAt time.Time `json:"generated_at"`

	// Tiers는 계층별 상태 점검 결과입니다.
	Tiers map[string]*TierHealth `json:"tiers"`

	// Orchestrator는 조회/쓰기 통계와 브레이커 상태입니다.
	Orchestrator OrchestratorStats `json:"orchestrator"`

	// RecentFailovers는 최근 페일오버 기록입니다.
	RecentFailovers []FailoverEvent `json:"recent_failovers,omitempty"`

	// Pipeline은 무효화 파이프라인 통계입니다.
	Pipeline PipelineStats `json:"pipeline"`

	// Warmup은 워밍 스케줄러 통계입니다.
	Warmup WarmupStats `json:"warmup"`

	// CacheAside는 캐시어사이드 통계입니다.
	CacheAside CacheAsideStats `json:"cache_aside"`

	// Recommendations는 휴리스틱 기반 권고 사항입니다.
	Recommendations []string `json:"recommendations,omitempty"`
}

// BuildHealthReport는 현재 상태의 종합 보고서를 생성합니다.
func BuildHealthReport(ctx context.Context, orch *Orchestrator, pipeline *Pipeline, warmup *WarmupScheduler, aside *CacheAside) *HealthReport {
	report := &HealthReport{
		Healthy:      true,
		GeneratedAt:  time.Now(),
		Tiers:        orch.TierHealthChecks(ctx),
		Orchestrator: orch.Stats(),
	}

	report.RecentFailovers = orch.RecentFailovers()
	if pipeline != nil {
		report.Pipeline = pipeline.Stats()
	}
	if warmup != nil {
		report.Warmup = warmup.Stats()
	}
	if aside != nil {
		report.CacheAside = aside.Stats()
	}

	for name, th := range report.Tiers {
		if !th.Healthy {
			report.Healthy = false
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("tier %s is unhealthy: %s", name, th.Message))
		}
	}

	for _, ts := range report.Orchestrator.Tiers {
		if ts.Breaker.State != StateClosed {
			report.Healthy = false
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("circuit for tier %s is %s", ts.Name, ts.Breaker.StateName))
		}
	}

	if report.Orchestrator.HitRate > 0 && report.Orchestrator.HitRate < 0.5 {
		report.Recommendations = append(report.Recommendations,
			"overall hit rate is below 50%, consider longer TTLs or warmup strategies")
	}

	if report.Pipeline.DeadLetters > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d invalidation events are in the dead letter queue, replay after fixing the backend", report.Pipeline.DeadLetters))
	}

	if report.Pipeline.Dropped > 0 {
		report.Healthy = false
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("dead letter queue overflowed, %d events were evicted: raise DeadLetterCapacity and replay sooner", report.Pipeline.Dropped))
	}

	return report
}
