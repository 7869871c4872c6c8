// Package core는 계층형 캐시의 핵심 타입과 오케스트레이션 로직을 구현합니다.
package core

import (
	"sync/atomic"
	"time"
)

// =============================================================================
// Entry: 캐시 엔트리
// =============================================================================
// Entry는 모든 계층이 공유하는 캐시 항목의 표준 표현입니다.
// Value는 직렬화된 바이트이며, 압축 여부는 Compressed 플래그로 표시됩니다.
// =============================================================================

// Entry는 캐시에 저장되는 단일 항목입니다.
type Entry struct {
	// Key는 캐시 키입니다. (예: "tenant:42:user:7:perms")
	Key string `json:"key" msgpack:"key"`

	// Value는 직렬화된 값입니다.
	Value []byte `json:"value" msgpack:"value"`

	// EntityType은 값의 도메인 유형입니다. (예: "user", "role", "permission")
	// 무효화 의존 규칙과 워밍 전략 선택에 사용됩니다.
	EntityType string `json:"entity_type" msgpack:"entity_type"`

	// CreatedAt은 생성 시각입니다.
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`

	// ExpiresAt은 만료 시각입니다. 0이면 만료되지 않습니다.
	ExpiresAt time.Time `json:"expires_at" msgpack:"expires_at"`

	// SlidingTTL이 0보다 크면 접근할 때마다 만료 시각이 연장됩니다.
	SlidingTTL time.Duration `json:"sliding_ttl,omitempty" msgpack:"sliding_ttl,omitempty"`

	// Priority는 워밍 시의 우선순위 힌트입니다. 클수록 중요합니다.
	Priority int `json:"priority,omitempty" msgpack:"priority,omitempty"`

	// Compressed는 Value가 압축되었는지 여부입니다.
	Compressed bool `json:"compressed,omitempty" msgpack:"compressed,omitempty"`

	// CompressionType은 사용된 압축 알고리즘입니다. ("s2", "zstd", "gzip")
	CompressionType string `json:"compression_type,omitempty" msgpack:"compression_type,omitempty"`

	// AccessCount는 접근 횟수입니다. (atomic)
	AccessCount uint64 `json:"access_count" msgpack:"access_count"`

	// LastAccessedAt은 마지막 접근 시각입니다.
	LastAccessedAt time.Time `json:"last_accessed_at" msgpack:"last_accessed_at"`

	// Size는 Value의 바이트 크기입니다.
	Size int64 `json:"size" msgpack:"size"`
}

// NewEntry는 새로운 캐시 엔트리를 생성합니다.
// ttl이 0이면 만료되지 않는 엔트리가 됩니다.
func NewEntry(key string, value []byte, entityType string, ttl time.Duration) *Entry {
	now := time.Now()

	e := &Entry{
		Key:            key,
		Value:          value,
		EntityType:     entityType,
		CreatedAt:      now,
		LastAccessedAt: now,
		Size:           int64(len(value)),
	}

	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	return e
}

// IsExpired는 엔트리가 만료되었는지 확인합니다.
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// TTL은 남은 수명을 반환합니다. 만료되지 않는 엔트리는 0을 반환합니다.
func (e *Entry) TTL() time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	remaining := time.Until(e.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Touch는 접근 메타데이터를 갱신합니다.
// SlidingTTL이 설정된 엔트리는 만료 시각도 함께 연장됩니다.
func (e *Entry) Touch() {
	atomic.AddUint64(&e.AccessCount, 1)
	e.LastAccessedAt = time.Now()

	if e.SlidingTTL > 0 {
		e.ExpiresAt = time.Now().Add(e.SlidingTTL)
	}
}

// Clone은 엔트리의 복사본을 반환합니다.
// Value 슬라이스도 복사하므로 계층 간 전달 시 안전합니다.
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.Value = make([]byte, len(e.Value))
	copy(clone.Value, e.Value)
	return &clone
}
