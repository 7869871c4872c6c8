package core

import (
	"bytes"
	"testing"
	"time"
)

func TestEntryExpiry(t *testing.T) {
	e := NewEntry("user:1", []byte("v"), "user", 50*time.Millisecond)

	if e.IsExpired() {
		t.Error("갓 생성된 엔트리가 만료 상태입니다")
	}
	if e.TTL() <= 0 {
		t.Errorf("남은 TTL이 양수가 아닙니다: %v", e.TTL())
	}

	time.Sleep(80 * time.Millisecond)

	if !e.IsExpired() {
		t.Error("TTL이 지난 엔트리가 만료되지 않았습니다")
	}
	if e.TTL() != 0 {
		t.Errorf("만료된 엔트리의 TTL이 0이 아닙니다: %v", e.TTL())
	}
}

func TestEntryNoExpiry(t *testing.T) {
	e := NewEntry("user:1", []byte("v"), "user", 0)

	if e.IsExpired() {
		t.Error("TTL 없는 엔트리가 만료 상태입니다")
	}
	if e.TTL() != 0 {
		t.Errorf("TTL 없는 엔트리의 TTL이 0이 아닙니다: %v", e.TTL())
	}
}

func TestEntrySlidingTouch(t *testing.T) {
	e := NewEntry("user:1", []byte("v"), "user", 100*time.Millisecond)
	e.SlidingTTL = 500 * time.Millisecond

	before := e.ExpiresAt
	e.Touch()

	if !e.ExpiresAt.After(before) {
		t.Error("슬라이딩 TTL 엔트리의 만료 시각이 연장되지 않았습니다")
	}
	if e.AccessCount != 1 {
		t.Errorf("접근 횟수가 1이 아닙니다: %d", e.AccessCount)
	}
}

func TestEntryTouchWithoutSliding(t *testing.T) {
	e := NewEntry("user:1", []byte("v"), "user", time.Minute)

	before := e.ExpiresAt
	e.Touch()

	if !e.ExpiresAt.Equal(before) {
		t.Error("슬라이딩 TTL이 없는데 만료 시각이 바뀌었습니다")
	}
}

func TestEntryClone(t *testing.T) {
	e := NewEntry("user:1", []byte("original"), "user", time.Minute)
	clone := e.Clone()

	clone.Value[0] = 'X'

	if !bytes.Equal(e.Value, []byte("original")) {
		t.Errorf("복사본 수정이 원본에 반영되었습니다: %s", e.Value)
	}
	if clone.Key != e.Key || clone.EntityType != e.EntityType {
		t.Error("복사본의 메타데이터가 원본과 다릅니다")
	}
}
