// 이 파일은 무효화 이벤트와 데드레터 항목을 정의합니다.
package core

import (
	"strings"
	"time"
)

// =============================================================================
// InvalidationEvent: 무효화 이벤트
// =============================================================================
// 쓰기 경로에서 생성되어 무효화 파이프라인 큐로 들어갑니다.
// DependentKeys의 항목이 "*"로 끝나면 접두사 무효화로 처리됩니다.
// =============================================================================

// WildcardSuffix는 접두사 무효화를 나타내는 키 접미사입니다.
const WildcardSuffix = "*"

// InvalidationEvent는 단일 무효화 요청입니다.
type InvalidationEvent struct {
	// Key는 무효화할 기본 키입니다.
	Key string `json:"key"`

	// EntityType은 키가 가리키는 엔터티 유형입니다.
	EntityType string `json:"entity_type"`

	// TenantID는 이벤트를 발생시킨 테넌트입니다. (감사/로깅용)
	TenantID string `json:"tenant_id,omitempty"`

	// Source는 이벤트 출처입니다. (예: "write-through", "admin", "replay")
	Source string `json:"source,omitempty"`

	// Timestamp는 이벤트 발생 시각입니다.
	Timestamp time.Time `json:"timestamp"`

	// DependentKeys는 함께 무효화할 키 목록입니다.
	// "*"로 끝나는 항목은 접두사로 해석됩니다.
	DependentKeys []string `json:"dependent_keys,omitempty"`

	// attempts는 파이프라인 내부의 재시도 횟수입니다.
	attempts int
}

// NewInvalidationEvent는 새로운 무효화 이벤트를 생성합니다.
func NewInvalidationEvent(key, entityType string) *InvalidationEvent {
	return &InvalidationEvent{
		Key:        key,
		EntityType: entityType,
		Timestamp:  time.Now(),
	}
}

// WithDependents는 의존 키를 추가한 이벤트를 반환합니다.
func (e *InvalidationEvent) WithDependents(keys ...string) *InvalidationEvent {
	e.DependentKeys = append(e.DependentKeys, keys...)
	return e
}

// WithTenant는 테넌트 정보를 설정한 이벤트를 반환합니다.
func (e *InvalidationEvent) WithTenant(tenantID string) *InvalidationEvent {
	e.TenantID = tenantID
	return e
}

// IsPrefixKey는 키가 접두사 무효화 표기인지 확인합니다.
func IsPrefixKey(key string) bool {
	return strings.HasSuffix(key, WildcardSuffix)
}

// TrimPrefixKey는 접두사 표기에서 와일드카드를 제거합니다.
func TrimPrefixKey(key string) string {
	return strings.TrimSuffix(key, WildcardSuffix)
}

// =============================================================================
// DeadLetterEntry: 데드레터 항목
// =============================================================================

// DeadLetterEntry는 재시도를 모두 소진한 무효화 이벤트입니다.
type DeadLetterEntry struct {
	// Event는 실패한 원본 이벤트입니다.
	Event *InvalidationEvent `json:"event"`

	// FailedAt은 데드레터로 이동한 시각입니다.
	FailedAt time.Time `json:"failed_at"`

	// LastErr은 마지막 시도의 오류 메시지입니다.
	LastErr string `json:"last_err"`
}
