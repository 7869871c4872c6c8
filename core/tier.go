// 이 파일은 캐시 계층 추상화를 정의합니다.
package core

import (
	"context"
	"time"
)

// =============================================================================
// TierLevel: 캐시 계층 순서
// =============================================================================
// 계층은 빠른 쪽부터 조회됩니다: Fast(인메모리) → Distributed(Redis)
// → Durable(Postgres/SQLite). 하위 계층 히트는 상위 계층으로 승격됩니다.
// =============================================================================

// TierLevel은 캐시 계층의 순서를 나타냅니다. 작을수록 빠른 계층입니다.
type TierLevel int

const (
	// TierFast는 프로세스 내 인메모리 계층입니다. (~1μs)
	TierFast TierLevel = iota

	// TierDistributed는 프로세스 간 공유 계층입니다. (~1ms, Redis)
	TierDistributed

	// TierDurable은 재시작 후에도 유지되는 계층입니다. (~10ms, Postgres/SQLite)
	TierDurable
)

// String은 계층 이름을 반환합니다.
func (l TierLevel) String() string {
	switch l {
	case TierFast:
		return "fast"
	case TierDistributed:
		return "distributed"
	case TierDurable:
		return "durable"
	default:
		return "unknown"
	}
}

// =============================================================================
// TierClient: 계층 클라이언트 인터페이스
// =============================================================================
// 모든 계층 백엔드는 이 인터페이스를 구현합니다. 키 없음은 오류가 아니라
// found=false로 반환합니다. 백엔드 연결 실패는 MarkTransient로 감싸
// 서킷 브레이커가 집계할 수 있게 합니다.
// =============================================================================

// TierClient는 단일 캐시 계층에 대한 클라이언트입니다.
type TierClient interface {
	// Name은 계층 백엔드 이름을 반환합니다. (예: "memory", "redis")
	Name() string

	// Level은 이 클라이언트가 담당하는 계층을 반환합니다.
	Level() TierLevel

	// Connect는 백엔드에 연결하고 필요한 초기화를 수행합니다.
	Connect(ctx context.Context) error

	// Close는 연결을 종료하고 자원을 정리합니다.
	Close(ctx context.Context) error

	// Get은 키에 해당하는 엔트리를 조회합니다.
	// 키가 없거나 만료되었으면 (nil, false, nil)을 반환합니다.
	// 반환된 엔트리는 호출자 소유여야 합니다. 구현이 내부에 보관하는
	// 엔트리를 그대로 반환하면 호출자의 변경이 저장 상태와 경합합니다.
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Set은 엔트리를 저장합니다. 엔트리의 TTL을 존중합니다.
	Set(ctx context.Context, entry *Entry) error

	// Remove는 키를 삭제합니다. 키가 존재했으면 true를 반환합니다.
	// 키가 없는 경우는 오류가 아닙니다.
	Remove(ctx context.Context, key string) (bool, error)

	// RemoveByPrefix는 접두사와 일치하는 모든 키를 삭제하고
	// 삭제된 개수를 반환합니다.
	RemoveByPrefix(ctx context.Context, prefix string) (int, error)

	// Health는 계층 상태를 점검합니다. 서킷 브레이커의 복구 프로브로도
	// 사용되므로 가볍게 유지해야 합니다.
	Health(ctx context.Context) (*TierHealth, error)
}

// TierHealth는 단일 계층의 상태 정보입니다.
type TierHealth struct {
	// Healthy는 백엔드가 정상 응답하는지 여부입니다.
	Healthy bool `json:"healthy"`

	// Latency는 상태 점검에 걸린 시간입니다.
	Latency time.Duration `json:"latency"`

	// ItemCount는 저장된 항목 수입니다. 백엔드가 지원하지 않으면 -1입니다.
	ItemCount int64 `json:"item_count"`

	// Message는 부가 설명입니다. (선택)
	Message string `json:"message,omitempty"`
}
