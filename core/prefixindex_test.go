package core

import (
	"sort"
	"testing"
)

func sortedKeysWithPrefix(idx *PrefixIndex, prefix string) []string {
	keys := idx.KeysWithPrefix(prefix)
	sort.Strings(keys)
	return keys
}

func TestPrefixIndexBoundaryLookup(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("tenant:42:user:7")
	idx.Add("tenant:42:user:8")
	idx.Add("tenant:42:group:1")
	idx.Add("tenant:99:user:7")

	keys := sortedKeysWithPrefix(idx, "tenant:42:user")
	want := []string{"tenant:42:user:7", "tenant:42:user:8"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("경계 접두사 조회 결과가 다릅니다: %v", keys)
	}

	if keys := idx.KeysWithPrefix("tenant:42"); len(keys) != 3 {
		t.Errorf("상위 접두사 조회 결과가 3개가 아닙니다: %v", keys)
	}
}

func TestPrefixIndexTrailingColon(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("tenant:42:user:7")
	idx.Add("tenant:420:user:1")

	// 끝에 콜론이 있으면 "tenant:42"로 경계 조회한 뒤 재확인하므로
	// "tenant:420:…"은 걸리지 않아야 합니다.
	keys := idx.KeysWithPrefix("tenant:42:")
	if len(keys) != 1 || keys[0] != "tenant:42:user:7" {
		t.Errorf("콜론으로 끝나는 접두사 조회 결과가 다릅니다: %v", keys)
	}
}

func TestPrefixIndexNonBoundaryLookup(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("tenant:42:user:7")
	idx.Add("tenant:42:user:8")
	idx.Add("tenant:99:user:7")

	// "tenant:4"는 콜론 경계가 아니므로 샤드 스캔으로 처리됩니다.
	keys := sortedKeysWithPrefix(idx, "tenant:4")
	want := []string{"tenant:42:user:7", "tenant:42:user:8"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("비경계 접두사 조회 결과가 다릅니다: %v", keys)
	}
}

func TestPrefixIndexRemove(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("tenant:42:user:7")
	idx.Add("tenant:42:user:8")

	idx.Remove("tenant:42:user:7")

	keys := idx.KeysWithPrefix("tenant:42:user")
	if len(keys) != 1 || keys[0] != "tenant:42:user:8" {
		t.Errorf("제거 후 조회 결과가 다릅니다: %v", keys)
	}

	idx.Remove("tenant:42:user:8")
	if keys := idx.KeysWithPrefix("tenant:42:user"); len(keys) != 0 {
		t.Errorf("모두 제거한 뒤에도 키가 남아 있습니다: %v", keys)
	}
	if idx.Len() != 0 {
		t.Errorf("색인 크기가 0이 아닙니다: %d", idx.Len())
	}
}

func TestPrefixIndexRemoveMissing(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("tenant:42:user:7")

	// 없는 키 제거는 조용히 무시되어야 합니다.
	idx.Remove("tenant:42:user:999")
	idx.Remove("")

	if idx.Len() != 1 {
		t.Errorf("색인 크기가 1이 아닙니다: %d", idx.Len())
	}
}

func TestPrefixIndexNoColonKey(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("standalone")

	if keys := idx.KeysWithPrefix("stand"); len(keys) != 1 {
		t.Errorf("콜론 없는 키가 조회되지 않았습니다: %v", keys)
	}
	if keys := idx.KeysWithPrefix("other"); len(keys) != 0 {
		t.Errorf("무관한 접두사가 키를 반환했습니다: %v", keys)
	}
}

func TestPrefixIndexEmptyPrefix(t *testing.T) {
	idx := NewPrefixIndex()
	idx.Add("tenant:42:user:7")

	if keys := idx.KeysWithPrefix(""); keys != nil {
		t.Errorf("빈 접두사가 키를 반환했습니다: %v", keys)
	}
}
