// 이 파일은 Fast 계층의 접두사 역색인을 구현합니다.
package core

import (
	"strings"
	"sync"
)

// =============================================================================
// PrefixIndex: 접두사 역색인
// =============================================================================
// 인메모리 계층은 접두사 스캔을 지원하지 않으므로, 콜론으로 구분된
// 각 접두사에서 전체 키 집합으로의 역색인을 유지합니다.
// "tenant:42:user:7"은 "tenant", "tenant:42", "tenant:42:user" 아래에
// 색인됩니다. 락 경합을 줄이기 위해 접두사 해시로 샤딩합니다.
// =============================================================================

const (
	prefixShardCount = 64
	prefixShardMask  = prefixShardCount - 1
)

// PrefixIndex는 콜론 구분 접두사에서 키 집합으로의 역색인입니다.
type PrefixIndex struct {
	shards [prefixShardCount]*prefixShard
}

type prefixShard struct {
	mu sync.RWMutex
	// prefixes는 접두사 → 키 집합입니다.
	prefixes map[string]map[string]struct{}
	// keys는 이 샤드에 색인된 전체 키 집합입니다.
	// 콜론 경계가 아닌 접두사 조회의 폴백 스캔에 사용됩니다.
	keys map[string]struct{}
}

// NewPrefixIndex는 새로운 접두사 색인을 생성합니다.
func NewPrefixIndex() *PrefixIndex {
	idx := &PrefixIndex{}
	for i := 0; i < prefixShardCount; i++ {
		idx.shards[i] = &prefixShard{
			prefixes: make(map[string]map[string]struct{}),
			keys:     make(map[string]struct{}),
		}
	}
	return idx
}

// shardFor는 키의 첫 세그먼트 해시로 샤드를 고릅니다.
// 같은 키의 모든 접두사는 첫 세그먼트를 공유하므로 같은 샤드에 모입니다.
func (idx *PrefixIndex) shardFor(key string) *prefixShard {
	seg := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		seg = key[:i]
	}
	h := uint32(2166136261)
	for i := 0; i < len(seg); i++ {
		h ^= uint32(seg[i])
		h *= 16777619
	}
	return idx.shards[h&prefixShardMask]
}

// prefixesOf는 키의 모든 콜론 경계 접두사를 반환합니다. (키 자신 제외)
func prefixesOf(key string) []string {
	var prefixes []string
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			prefixes = append(prefixes, key[:i])
		}
	}
	return prefixes
}

// Add는 키를 색인에 추가합니다.
func (idx *PrefixIndex) Add(key string) {
	if key == "" {
		return
	}

	shard := idx.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.keys[key] = struct{}{}
	for _, p := range prefixesOf(key) {
		set, ok := shard.prefixes[p]
		if !ok {
			set = make(map[string]struct{})
			shard.prefixes[p] = set
		}
		set[key] = struct{}{}
	}
}

// Remove는 키를 색인에서 제거합니다.
// 비게 된 접두사 집합도 함께 제거하여 색인이 무한히 자라지 않게 합니다.
func (idx *PrefixIndex) Remove(key string) {
	if key == "" {
		return
	}

	shard := idx.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.keys, key)
	for _, p := range prefixesOf(key) {
		set, ok := shard.prefixes[p]
		if !ok {
			continue
		}
		delete(set, key)
		if len(set) == 0 {
			delete(shard.prefixes, p)
		}
	}
}

// KeysWithPrefix는 접두사와 일치하는 모든 키를 반환합니다.
// 접두사가 콜론 경계에 있으면 O(1) 조회, 아니면 샤드 내 선형 스캔입니다.
func (idx *PrefixIndex) KeysWithPrefix(prefix string) []string {
	if prefix == "" {
		return nil
	}

	// 조회용 접두사는 끝의 콜론을 제거해 경계에 맞춥니다.
	lookup := strings.TrimSuffix(prefix, ":")

	// 콜론이 없는 접두사는 첫 세그먼트가 불완전할 수 있어 샤드를
	// 특정할 수 없습니다. 전체 샤드를 스캔합니다.
	if strings.IndexByte(lookup, ':') < 0 {
		var keys []string
		for i := 0; i < prefixShardCount; i++ {
			s := idx.shards[i]
			s.mu.RLock()
			for k := range s.keys {
				if strings.HasPrefix(k, prefix) {
					keys = append(keys, k)
				}
			}
			s.mu.RUnlock()
		}
		return keys
	}

	shard := idx.shardFor(lookup)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if set, ok := shard.prefixes[lookup]; ok {
		keys := make([]string, 0, len(set))
		for k := range set {
			// 경계 조회가 원래 접두사보다 넓을 수 있으므로 재확인합니다.
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		return keys
	}

	// 콜론 경계가 아닌 접두사: 샤드 키 집합을 스캔합니다.
	var keys []string
	for k := range shard.keys {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len은 색인된 키 수를 반환합니다.
func (idx *PrefixIndex) Len() int {
	count := 0
	for i := 0; i < prefixShardCount; i++ {
		idx.shards[i].mu.RLock()
		count += len(idx.shards[i].keys)
		idx.shards[i].mu.RUnlock()
	}
	return count
}
