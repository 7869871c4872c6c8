package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// 테스트용 Mock 계층
// =============================================================================

type mockTier struct {
	name  string
	level TierLevel

	mu   sync.Mutex
	data map[string]*Entry

	// failWith가 설정되면 모든 연산이 이 오류를 반환합니다.
	failWith error

	// unhealthy가 true면 Health가 비정상을 보고합니다.
	unhealthy bool

	gets    int
	sets    int
	removes int
}

func newMockTier(name string, level TierLevel) *mockTier {
	return &mockTier{
		name:  name,
		level: level,
		data:  make(map[string]*Entry),
	}
}

func (m *mockTier) Name() string                      { return m.name }
func (m *mockTier) Level() TierLevel                  { return m.level }
func (m *mockTier) Connect(ctx context.Context) error { return nil }
func (m *mockTier) Close(ctx context.Context) error   { return nil }

func (m *mockTier) setFailure(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

func (m *mockTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	if m.failWith != nil {
		return nil, false, m.failWith
	}

	entry, ok := m.data[key]
	if !ok || entry.IsExpired() {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

func (m *mockTier) Set(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sets++
	if m.failWith != nil {
		return m.failWith
	}
	m.data[entry.Key] = entry
	return nil
}

func (m *mockTier) Remove(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removes++
	if m.failWith != nil {
		return false, m.failWith
	}
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		return true, nil
	}
	return false, nil
}

func (m *mockTier) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return 0, m.failWith
	}

	count := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			count++
		}
	}
	return count, nil
}

func (m *mockTier) Health(ctx context.Context) (*TierHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	if m.unhealthy {
		return &TierHealth{Healthy: false, Message: "forced unhealthy"}, nil
	}
	return &TierHealth{Healthy: true, ItemCount: int64(len(m.data))}, nil
}

func (m *mockTier) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *mockTier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// tokenCompressor는 압축 경로 테스트용 압축기입니다.
// 원본을 내부에 저장하고 짧은 토큰을 돌려주므로 항상 크기가 줄어듭니다.
type tokenCompressor struct {
	mu     sync.Mutex
	stored map[string][]byte
	next   int
}

func newTokenCompressor() *tokenCompressor {
	return &tokenCompressor{stored: make(map[string][]byte)}
}

func (c *tokenCompressor) Name() string { return "token" }

func (c *tokenCompressor) Compress(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := "tok-" + strconv.Itoa(c.next)
	c.next++
	copied := make([]byte, len(data))
	copy(copied, data)
	c.stored[token] = copied
	return []byte(token), nil
}

func (c *tokenCompressor) Decompress(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	original, ok := c.stored[string(data)]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return original, nil
}
