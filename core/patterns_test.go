package core

import (
	"testing"
	"time"
)

func TestPatternTrackerRecord(t *testing.T) {
	tracker := NewPatternTracker()

	tracker.Record("user:1", "user", true)
	tracker.Record("user:1", "user", true)
	tracker.Record("user:1", "user", false)

	p, ok := tracker.Get("user:1")
	if !ok {
		t.Fatal("기록된 패턴을 찾을 수 없습니다")
	}
	if p.AccessCount != 3 || p.HitCount != 2 {
		t.Errorf("접근/히트 횟수가 다릅니다: %d/%d", p.AccessCount, p.HitCount)
	}
	if got := p.HitRate(); got < 0.66 || got > 0.67 {
		t.Errorf("히트율이 2/3가 아닙니다: %f", got)
	}
}

func TestPatternTrackerHitRateNoAccess(t *testing.T) {
	p := AccessPattern{}
	if p.HitRate() != 0 {
		t.Errorf("접근 없는 패턴의 히트율이 0이 아닙니다: %f", p.HitRate())
	}
}

func TestPatternTrackerPrune(t *testing.T) {
	tracker := NewPatternTracker()

	tracker.Record("user:idle", "user", false)
	tracker.mu.Lock()
	tracker.patterns["user:idle"].LastAccess = time.Now().Add(-2 * time.Hour)
	tracker.mu.Unlock()

	tracker.Record("user:recent", "user", false)

	removed := tracker.Prune(time.Hour, 10)
	if removed != 1 {
		t.Errorf("제거 수가 1이 아닙니다: %d", removed)
	}
	if _, ok := tracker.Get("user:idle"); ok {
		t.Error("유휴 패턴이 제거되지 않았습니다")
	}
	if _, ok := tracker.Get("user:recent"); !ok {
		t.Error("최근 패턴이 제거되었습니다")
	}
}

func TestPatternTrackerPruneKeepsPopular(t *testing.T) {
	tracker := NewPatternTracker()

	record(tracker, "user:popular", "user", 20, 15)
	tracker.mu.Lock()
	tracker.patterns["user:popular"].LastAccess = time.Now().Add(-2 * time.Hour)
	tracker.mu.Unlock()

	if removed := tracker.Prune(time.Hour, 10); removed != 0 {
		t.Errorf("접근이 많은 패턴이 제거되었습니다: %d", removed)
	}
}

func TestPatternTrackerForget(t *testing.T) {
	tracker := NewPatternTracker()

	tracker.Record("user:1", "user", true)
	tracker.Forget("user:1")

	if _, ok := tracker.Get("user:1"); ok {
		t.Error("Forget 후에도 패턴이 남아 있습니다")
	}
	if tracker.Len() != 0 {
		t.Errorf("패턴 수가 0이 아닙니다: %d", tracker.Len())
	}
}

func TestPatternTrackerSnapshotCopy(t *testing.T) {
	tracker := NewPatternTracker()
	tracker.Record("user:1", "user", true)

	snap := tracker.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("스냅샷 크기가 1이 아닙니다: %d", len(snap))
	}

	snap[0].AccessCount = 999
	p, _ := tracker.Get("user:1")
	if p.AccessCount != 1 {
		t.Errorf("스냅샷 수정이 내부 상태를 바꿨습니다: %d", p.AccessCount)
	}
}
