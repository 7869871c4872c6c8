// 이 파일은 워밍 스케줄러가 사용하는 접근 패턴 추적기를 구현합니다.
package core

import (
	"sync"
	"time"
)

// =============================================================================
// PatternTracker: 접근 패턴 추적기
// =============================================================================
// 키별 접근/히트 횟수와 시각을 기록합니다. 예측 워밍은 히트율이 낮은
// 인기 키를, 지능형 갱신은 최근 활발한 키를 이 기록에서 고릅니다.
// 오래 유휴 상태인 패턴은 분석 패스에서 제거됩니다.
// =============================================================================

// AccessPattern은 단일 키의 접근 기록입니다.
type AccessPattern struct {
	// Key는 캐시 키입니다.
	Key string `json:"key"`

	// EntityType은 키의 엔터티 유형입니다.
	EntityType string `json:"entity_type"`

	// AccessCount는 전체 접근 횟수입니다.
	AccessCount uint64 `json:"access_count"`

	// HitCount는 캐시 히트 횟수입니다.
	HitCount uint64 `json:"hit_count"`

	// FirstAccess는 최초 접근 시각입니다.
	FirstAccess time.Time `json:"first_access"`

	// LastAccess는 마지막 접근 시각입니다.
	LastAccess time.Time `json:"last_access"`
}

// HitRate는 히트율을 반환합니다. 접근이 없으면 0입니다.
func (p *AccessPattern) HitRate() float64 {
	if p.AccessCount == 0 {
		return 0
	}
	return float64(p.HitCount) / float64(p.AccessCount)
}

// PatternTracker는 키별 접근 패턴을 추적합니다.
type PatternTracker struct {
	mu       sync.RWMutex
	patterns map[string]*AccessPattern
}

// NewPatternTracker는 새로운 패턴 추적기를 생성합니다.
func NewPatternTracker() *PatternTracker {
	return &PatternTracker{
		patterns: make(map[string]*AccessPattern),
	}
}

// Record는 접근을 기록합니다. hit는 캐시 히트 여부입니다.
func (t *PatternTracker) Record(key, entityType string, hit bool) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.patterns[key]
	if !ok {
		p = &AccessPattern{
			Key:         key,
			EntityType:  entityType,
			FirstAccess: now,
		}
		t.patterns[key] = p
	}

	p.AccessCount++
	if hit {
		p.HitCount++
	}
	p.LastAccess = now
}

// Get은 키의 패턴 복사본을 반환합니다.
func (t *PatternTracker) Get(key string) (AccessPattern, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.patterns[key]
	if !ok {
		return AccessPattern{}, false
	}
	return *p, true
}

// Snapshot은 모든 패턴의 복사본을 반환합니다.
func (t *PatternTracker) Snapshot() []AccessPattern {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]AccessPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		result = append(result, *p)
	}
	return result
}

// Prune은 idleFor 이상 접근이 없고 접근 횟수가 maxAccess 이하인 패턴을
// 제거하고 제거된 수를 반환합니다.
func (t *PatternTracker) Prune(idleFor time.Duration, maxAccess uint64) int {
	cutoff := time.Now().Add(-idleFor)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, p := range t.patterns {
		if p.LastAccess.Before(cutoff) && p.AccessCount <= maxAccess {
			delete(t.patterns, key)
			removed++
		}
	}
	return removed
}

// Forget은 키의 패턴을 제거합니다. (무효화 시 호출)
func (t *PatternTracker) Forget(key string) {
	t.mu.Lock()
	delete(t.patterns, key)
	t.mu.Unlock()
}

// Len은 추적 중인 패턴 수를 반환합니다.
func (t *PatternTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.patterns)
}
