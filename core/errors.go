// Package core는 계층형 캐시의 핵심 타입과 오케스트레이션 로직을 구현합니다.
// 이 파일은 공용 에러와 일시적 오류 분류를 정의합니다.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// =============================================================================
// 센티넬 에러
// =============================================================================

var (
	// ErrCircuitOpen은 서킷이 열려 있고 페일오버 체인도 모두 실패했을 때 반환됩니다.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTierUnavailable은 해당 계층이 등록되지 않았거나 비활성 상태일 때 반환됩니다.
	ErrTierUnavailable = errors.New("tier is not available")

	// ErrEmptyKey는 빈 키로 연산을 시도했을 때 반환됩니다.
	ErrEmptyKey = errors.New("cache key is empty")

	// ErrClosed는 종료된 캐시에 대한 연산 시 반환됩니다.
	ErrClosed = errors.New("cache is closed")

	// ErrPipelineClosed는 종료된 무효화 파이프라인에 이벤트를 넣을 때 반환됩니다.
	ErrPipelineClosed = errors.New("invalidation pipeline is closed")

	// ErrNilLoader는 로더 함수가 nil일 때 반환됩니다.
	ErrNilLoader = errors.New("loader function is nil")
)

// =============================================================================
// 일시적 오류 분류
// =============================================================================
// 서킷 브레이커는 일시적(transient) 오류만 실패로 집계합니다.
// 연결/타임아웃 계열만 일시적으로 보고, 검증 오류나 역직렬화 오류는
// 백엔드 장애가 아니므로 제외합니다.
// =============================================================================

// transientError는 명시적으로 일시적으로 표시된 오류입니다.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient는 오류를 일시적 오류로 표시합니다.
// 계층 클라이언트가 연결 실패를 감싸서 반환할 때 사용합니다.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient는 오류가 일시적인지 판별합니다.
// 명시적 표시, 네트워크 오류, 컨텍스트 데드라인 초과를 일시적으로 봅니다.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// =============================================================================
// TierError: 계층 연산 오류
// =============================================================================

// TierError는 어느 계층의 어떤 연산이 실패했는지 담는 오류입니다.
type TierError struct {
	Tier string
	Op   string
	Key  string
	Err  error
}

func (e *TierError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("tier %s: %s: %v", e.Tier, e.Op, e.Err)
	}
	return fmt.Sprintf("tier %s: %s %q: %v", e.Tier, e.Op, e.Key, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }
