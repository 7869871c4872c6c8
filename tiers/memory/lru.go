// Package memory는 Fast 계층의 인메모리 백엔드를 구현합니다.
// 이 파일은 샤딩된 LRU 저장소를 구현합니다.
package memory

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tenantsec/tcache/core"
)

// =============================================================================
// shardedStore: 샤딩된 LRU 저장소
// =============================================================================
// 락 경합을 줄이기 위해 128개 샤드로 분할합니다. 각 샤드는 독립적인
// LRU 리스트를 유지하고, 용량 초과 시 샤드 내에서 퇴거합니다.
// =============================================================================

const (
	shardCount = 128
	shardMask  = shardCount - 1
)

type shardedStore struct {
	shards   [shardCount]*lruShard
	shardMax int

	// 전역 통계 (atomic)
	hits      uint64
	misses    uint64
	evictions uint64
}

type lruShard struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	evictLst *list.List
	maxSize  int
}

type lruItem struct {
	key   string
	entry *core.Entry
}

func newShardedStore(maxEntries int) *shardedStore {
	shardMax := maxEntries / shardCount
	if shardMax < 1 {
		shardMax = 1
	}

	s := &shardedStore{shardMax: shardMax}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &lruShard{
			items:    make(map[string]*list.Element),
			evictLst: list.New(),
			maxSize:  shardMax,
		}
	}
	return s
}

// shardFor는 FNV-1a 해시로 샤드를 선택합니다.
func (s *shardedStore) shardFor(key string) *lruShard {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return s.shards[h&shardMask]
}

// get은 키를 조회하고 LRU 순서를 갱신합니다.
// 만료된 엔트리는 제자리에서 제거하고 미스로 처리합니다.
// 접근 메타데이터와 슬라이딩 만료 연장은 샤드 락 안에서 저장된
// 엔트리에 적용되고, 호출자에게는 복사본이 반환됩니다. 저장된
// 엔트리 포인터는 락 밖으로 나가지 않습니다.
func (s *shardedStore) get(key string) (*core.Entry, bool) {
	shard := s.shardFor(key)

	shard.mu.Lock()
	elem, ok := shard.items[key]
	if !ok {
		shard.mu.Unlock()
		atomic.AddUint64(&s.misses, 1)
		return nil, false
	}

	item := elem.Value.(*lruItem)
	entry := item.entry

	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		shard.evictLst.Remove(elem)
		delete(shard.items, key)
		shard.mu.Unlock()
		atomic.AddUint64(&s.misses, 1)
		return nil, false
	}

	shard.evictLst.MoveToFront(elem)
	entry.Touch()
	snapshot := entry.Clone()
	shard.mu.Unlock()

	atomic.AddUint64(&s.hits, 1)
	return snapshot, true
}

func (s *shardedStore) set(entry *core.Entry) {
	if entry == nil || entry.Key == "" {
		return
	}

	shard := s.shardFor(entry.Key)
	shard.mu.Lock()

	if elem, ok := shard.items[entry.Key]; ok {
		shard.evictLst.MoveToFront(elem)
		elem.Value.(*lruItem).entry = entry
		shard.mu.Unlock()
		return
	}

	for len(shard.items) >= shard.maxSize {
		s.evictOldest(shard)
	}

	elem := shard.evictLst.PushFront(&lruItem{key: entry.Key, entry: entry})
	shard.items[entry.Key] = elem
	shard.mu.Unlock()
}

func (s *shardedStore) remove(key string) bool {
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, ok := shard.items[key]
	if !ok {
		return false
	}

	shard.evictLst.Remove(elem)
	delete(shard.items, key)
	return true
}

// removeByPrefix는 접두사와 일치하는 키를 모든 샤드에서 제거합니다.
func (s *shardedStore) removeByPrefix(prefix string) int {
	removed := 0
	for i := 0; i < shardCount; i++ {
		shard := s.shards[i]
		shard.mu.Lock()

		var next *list.Element
		for elem := shard.evictLst.Front(); elem != nil; elem = next {
			next = elem.Next()
			item := elem.Value.(*lruItem)
			if strings.HasPrefix(item.key, prefix) {
				shard.evictLst.Remove(elem)
				delete(shard.items, item.key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// evictOldest는 샤드에서 가장 오래된 항목을 퇴거합니다.
// 호출자가 샤드 락을 보유해야 합니다.
func (s *shardedStore) evictOldest(shard *lruShard) {
	elem := shard.evictLst.Back()
	if elem == nil {
		return
	}

	item := elem.Value.(*lruItem)
	shard.evictLst.Remove(elem)
	delete(shard.items, item.key)
	atomic.AddUint64(&s.evictions, 1)
}

func (s *shardedStore) len() int {
	count := 0
	for i := 0; i < shardCount; i++ {
		s.shards[i].mu.Lock()
		count += len(s.shards[i].items)
		s.shards[i].mu.Unlock()
	}
	return count
}

func (s *shardedStore) clear() {
	for i := 0; i < shardCount; i++ {
		s.shards[i].mu.Lock()
		s.shards[i].items = make(map[string]*list.Element)
		s.shards[i].evictLst.Init()
		s.shards[i].mu.Unlock()
	}
}

// cleanupExpired는 만료된 항목을 일괄 제거합니다.
func (s *shardedStore) cleanupExpired() int {
	count := 0
	now := time.Now()

	for i := 0; i < shardCount; i++ {
		shard := s.shards[i]
		shard.mu.Lock()

		var next *list.Element
		for elem := shard.evictLst.Back(); elem != nil; elem = next {
			next = elem.Prev()
			item := elem.Value.(*lruItem)
			if !item.entry.ExpiresAt.IsZero() && item.entry.ExpiresAt.Before(now) {
				shard.evictLst.Remove(elem)
				delete(shard.items, item.key)
				count++
			}
		}
		shard.mu.Unlock()
	}
	return count
}

func (s *shardedStore) stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&s.hits),
		atomic.LoadUint64(&s.misses),
		atomic.LoadUint64(&s.evictions)
}
