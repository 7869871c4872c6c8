package core

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.PromotionDelay = 10 * time.Millisecond
	opts.RecoveryInterval = time.Hour // 테스트 중 프로브 루프가 끼어들지 않게
	opts.Breakers[TierDistributed] = &BreakerConfig{
		Enabled:           true,
		FailureThreshold:  2,
		MinimumThroughput: 2,
		SamplingDuration:  2 * time.Second,
		BreakDuration:     100 * time.Millisecond,
		FailoverChain:     []TierLevel{TierDurable},
	}
	opts.Breakers[TierDurable] = &BreakerConfig{
		Enabled:           true,
		FailureThreshold:  2,
		MinimumThroughput: 2,
		SamplingDuration:  2 * time.Second,
		BreakDuration:     100 * time.Millisecond,
	}
	return opts
}

// newTestOrchestrator는 3계층 mock 구성의 오케스트레이터를 만듭니다.
func newTestOrchestrator(t *testing.T, opts *Options) (*Orchestrator, *mockTier, *mockTier, *mockTier) {
	t.Helper()

	if opts == nil {
		opts = testOptions()
	}

	orch := NewOrchestrator(opts, nil)
	fast := newMockTier("fast", TierFast)
	dist := newMockTier("dist", TierDistributed)
	durable := newMockTier("durable", TierDurable)

	for _, tier := range []*mockTier{fast, dist, durable} {
		if err := orch.AddTier(tier); err != nil {
			t.Fatalf("계층 추가 실패: %v", err)
		}
	}
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("시작 실패: %v", err)
	}
	t.Cleanup(func() { _ = orch.Close(context.Background()) })

	return orch, fast, dist, durable
}

func TestOrchestratorSetAndGet(t *testing.T) {
	ctx := context.Background()
	orch, fast, dist, durable := newTestOrchestrator(t, nil)

	err := orch.Set(ctx, "tenant:1:user:7", []byte("payload"), "user", nil)
	if err != nil {
		t.Fatalf("Set 실패: %v", err)
	}

	// 모든 계층에 기록되어야 합니다.
	for _, tier := range []*mockTier{fast, dist, durable} {
		if !tier.has("tenant:1:user:7") {
			t.Errorf("%s 계층에 키가 없습니다", tier.name)
		}
	}

	entry, found, err := orch.Get(ctx, "tenant:1:user:7")
	if err != nil {
		t.Fatalf("Get 실패: %v", err)
	}
	if !found {
		t.Fatal("방금 쓴 키를 찾지 못했습니다")
	}
	if !bytes.Equal(entry.Value, []byte("payload")) {
		t.Errorf("잘못된 값: %s", entry.Value)
	}
}

func TestOrchestratorMissIsNotError(t *testing.T) {
	ctx := context.Background()
	orch, _, _, _ := newTestOrchestrator(t, nil)

	entry, found, err := orch.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("미스가 오류를 반환했습니다: %v", err)
	}
	if found || entry != nil {
		t.Error("없는 키가 발견되었다고 반환됨")
	}
}

func TestOrchestratorEmptyKey(t *testing.T) {
	ctx := context.Background()
	orch, _, _, _ := newTestOrchestrator(t, nil)

	if _, _, err := orch.Get(ctx, ""); err != ErrEmptyKey {
		t.Errorf("빈 키 Get의 오류가 ErrEmptyKey가 아닙니다: %v", err)
	}
	if err := orch.Set(ctx, "", []byte("v"), "user", nil); err != ErrEmptyKey {
		t.Errorf("빈 키 Set의 오류가 ErrEmptyKey가 아닙니다: %v", err)
	}
}

func TestOrchestratorPromotion(t *testing.T) {
	ctx := context.Background()
	orch, fast, dist, durable := newTestOrchestrator(t, nil)

	// Durable에만 존재하는 엔트리를 준비합니다.
	entry := NewEntry("cold:key", []byte("cold-value"), "user", time.Minute)
	if err := durable.Set(ctx, entry); err != nil {
		t.Fatal(err)
	}

	result, found, err := orch.Get(ctx, "cold:key")
	if err != nil || !found {
		t.Fatalf("Durable 조회 실패: found=%v err=%v", found, err)
	}
	if !bytes.Equal(result.Value, []byte("cold-value")) {
		t.Errorf("잘못된 값: %s", result.Value)
	}

	// 승격은 지연 후 비동기로 일어납니다.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fast.has("cold:key") && dist.has("cold:key") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("승격되지 않았습니다: fast=%v dist=%v", fast.has("cold:key"), dist.has("cold:key"))
}

func TestOrchestratorPromotionDelay(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.PromotionDelay = 80 * time.Millisecond
	orch, fast, _, durable := newTestOrchestrator(t, opts)

	entry := NewEntry("delayed:key", []byte("v"), "user", time.Minute)
	if err := durable.Set(ctx, entry); err != nil {
		t.Fatal(err)
	}

	if _, found, _ := orch.Get(ctx, "delayed:key"); !found {
		t.Fatal("조회 실패")
	}

	// 지연 전에는 승격되지 않아야 합니다.
	time.Sleep(20 * time.Millisecond)
	if fast.has("delayed:key") {
		t.Error("승격 지연 전에 Fast 계층에 기록되었습니다")
	}

	time.Sleep(150 * time.Millisecond)
	if !fast.has("delayed:key") {
		t.Error("승격 지연 후에도 Fast 계층에 없습니다")
	}
}

func TestOrchestratorSkipsOpenCircuitTier(t *testing.T) {
	ctx := context.Background()
	orch, _, dist, durable := newTestOrchestrator(t, nil)

	entry := NewEntry("fallback:key", []byte("v"), "user", time.Minute)
	if err := durable.Set(ctx, entry); err != nil {
		t.Fatal(err)
	}

	// 어느 계층에도 없는 키로 Distributed 실패를 누적시켜 서킷을 엽니다.
	dist.setFailure(transientErr())
	for i := 0; i < 3; i++ {
		_, _, _ = orch.Get(ctx, "trip:key")
	}

	slot := orch.byLevel[TierDistributed]
	if slot.breaker.State() != StateOpen {
		t.Fatalf("Distributed 서킷이 열리지 않았습니다: %v", slot.breaker.State())
	}

	// 서킷이 열린 뒤에도 Durable에서 조회가 성공해야 합니다.
	distGetsBefore := dist.gets
	_, found, err := orch.Get(ctx, "fallback:key")
	if err != nil || !found {
		t.Fatalf("서킷 개방 중 조회 실패: found=%v err=%v", found, err)
	}
	if dist.gets != distGetsBefore {
		t.Error("열린 서킷의 계층이 호출되었습니다")
	}
}

func TestOrchestratorSetFailoverChain(t *testing.T) {
	ctx := context.Background()
	orch, _, dist, durable := newTestOrchestrator(t, nil)

	// Distributed 쓰기를 실패시킵니다. 페일오버 체인이 Durable로
	// 우회하므로 전체 쓰기는 성공해야 합니다.
	dist.setFailure(transientErr())

	if err := orch.Set(ctx, "fo:key", []byte("v"), "user", nil); err != nil {
		t.Fatalf("페일오버에도 불구하고 Set이 실패했습니다: %v", err)
	}
	if !durable.has("fo:key") {
		t.Error("Durable 계층에 기록되지 않았습니다")
	}

	if len(orch.RecentFailovers()) == 0 {
		t.Error("페일오버 이벤트가 기록되지 않았습니다")
	}
}

func TestOrchestratorFastWriteFailsClosed(t *testing.T) {
	ctx := context.Background()
	orch, fast, _, _ := newTestOrchestrator(t, nil)

	fast.setFailure(transientErr())

	// Fast 계층은 페일오버 체인이 없으므로 쓰기 실패가 전파됩니다.
	if err := orch.Set(ctx, "fc:key", []byte("v"), "user", nil); err == nil {
		t.Error("Fast 계층 쓰기 실패가 전파되지 않았습니다")
	}
}

func TestOrchestratorLowerTierWriteFailsOpen(t *testing.T) {
	ctx := context.Background()
	orch, fast, dist, durable := newTestOrchestrator(t, nil)

	// Distributed와 Durable이 모두 실패해도 Fast 쓰기가 성공하면
	// Set은 성공합니다.
	dist.setFailure(transientErr())
	durable.setFailure(transientErr())

	if err := orch.Set(ctx, "open:key", []byte("v"), "user", nil); err != nil {
		t.Fatalf("하위 계층 실패가 전파되었습니다: %v", err)
	}
	if !fast.has("open:key") {
		t.Error("Fast 계층에 기록되지 않았습니다")
	}
}

func TestOrchestratorRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	orch, fast, _, _ := newTestOrchestrator(t, nil)

	if err := orch.Set(ctx, "rm:key", []byte("v"), "user", nil); err != nil {
		t.Fatal(err)
	}

	if err := orch.Remove(ctx, "rm:key"); err != nil {
		t.Fatalf("Remove 실패: %v", err)
	}
	if fast.has("rm:key") {
		t.Error("삭제 후에도 키가 존재합니다")
	}

	// 없는 키 삭제도 성공해야 합니다.
	if err := orch.Remove(ctx, "rm:key"); err != nil {
		t.Errorf("반복 삭제가 실패했습니다: %v", err)
	}
	if err := orch.Remove(ctx, "never:existed"); err != nil {
		t.Errorf("없는 키 삭제가 실패했습니다: %v", err)
	}
}

func TestOrchestratorRemoveByPrefix(t *testing.T) {
	ctx := context.Background()
	orch, fast, _, _ := newTestOrchestrator(t, nil)

	keys := []string{
		"tenant:1:user:1",
		"tenant:1:user:2",
		"tenant:1:role:admin",
		"tenant:2:user:1",
	}
	for _, key := range keys {
		if err := orch.Set(ctx, key, []byte("v"), "user", nil); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := orch.RemoveByPrefix(ctx, "tenant:1:user:")
	if err != nil {
		t.Fatalf("RemoveByPrefix 실패: %v", err)
	}
	if removed != 2 {
		t.Errorf("삭제 수가 2가 아닙니다: %d", removed)
	}

	// 다른 접두사의 키는 남아 있어야 합니다.
	if !fast.has("tenant:1:role:admin") || !fast.has("tenant:2:user:1") {
		t.Error("접두사가 다른 키가 삭제되었습니다")
	}
	if _, found, _ := orch.Get(ctx, "tenant:1:user:1"); found {
		t.Error("접두사 삭제 후에도 키가 조회됩니다")
	}
}

func TestOrchestratorInvalidateWithDependents(t *testing.T) {
	ctx := context.Background()
	orch, _, _, _ := newTestOrchestrator(t, nil)

	for _, key := range []string{"user:7", "perms:user:7", "group:10:members", "group:10:meta"} {
		if err := orch.Set(ctx, key, []byte("v"), "user", nil); err != nil {
			t.Fatal(err)
		}
	}

	event := NewInvalidationEvent("user:7", "user").
		WithDependents("perms:user:7", "group:10:*")

	if err := orch.Invalidate(ctx, event); err != nil {
		t.Fatalf("Invalidate 실패: %v", err)
	}

	for _, key := range []string{"user:7", "perms:user:7", "group:10:members", "group:10:meta"} {
		if _, found, _ := orch.Get(ctx, key); found {
			t.Errorf("무효화 후에도 %q가 조회됩니다", key)
		}
	}

	// 무효화는 멱등해야 합니다.
	if err := orch.Invalidate(ctx, event); err != nil {
		t.Errorf("반복 무효화가 실패했습니다: %v", err)
	}
}

func TestOrchestratorDependencyRules(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.DependencyRules = map[string][]string{
		"user": {"perms:{key}", "session:{key}:*"},
	}
	orch, _, _, _ := newTestOrchestrator(t, opts)

	// 파생 캐시를 먼저 채워 둡니다.
	for _, key := range []string{"perms:user:7", "session:user:7:web", "session:user:7:mobile"} {
		if err := orch.Set(ctx, key, []byte("derived"), "derived", nil); err != nil {
			t.Fatal(err)
		}
	}

	// user 쓰기는 규칙에 따라 파생 키를 무효화해야 합니다.
	if err := orch.Set(ctx, "user:7", []byte("fresh"), "user", nil); err != nil {
		t.Fatalf("Set 실패: %v", err)
	}

	for _, key := range []string{"perms:user:7", "session:user:7:web", "session:user:7:mobile"} {
		if _, found, _ := orch.Get(ctx, key); found {
			t.Errorf("의존 규칙이 %q를 무효화하지 않았습니다", key)
		}
	}
}

func TestOrchestratorCompression(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.CompressionThreshold = 64

	orch := NewOrchestrator(opts, newTokenCompressor())
	fast := newMockTier("fast", TierFast)
	if err := orch.AddTier(fast); err != nil {
		t.Fatal(err)
	}
	if err := orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = orch.Close(context.Background()) })

	big := bytes.Repeat([]byte("permission-grant "), 32)
	if err := orch.Set(ctx, "big:key", big, "permission", nil); err != nil {
		t.Fatalf("Set 실패: %v", err)
	}

	// 저장된 엔트리는 압축되어 있어야 합니다.
	fast.mu.Lock()
	stored := fast.data["big:key"]
	fast.mu.Unlock()
	if !stored.Compressed {
		t.Error("임계값을 넘는 값이 압축되지 않았습니다")
	}

	// 조회 결과는 복원된 원본이어야 합니다.
	entry, found, err := orch.Get(ctx, "big:key")
	if err != nil || !found {
		t.Fatalf("Get 실패: found=%v err=%v", found, err)
	}
	if !bytes.Equal(entry.Value, big) {
		t.Error("복원된 값이 원본과 다릅니다")
	}
	if entry.Compressed {
		t.Error("반환된 엔트리에 압축 플래그가 남아 있습니다")
	}

	// 임계값 미만은 압축하지 않습니다.
	if err := orch.Set(ctx, "small:key", []byte("tiny"), "permission", nil); err != nil {
		t.Fatal(err)
	}
	fast.mu.Lock()
	small := fast.data["small:key"]
	fast.mu.Unlock()
	if small.Compressed {
		t.Error("임계값 미만인 값이 압축되었습니다")
	}
}

func TestOrchestratorStats(t *testing.T) {
	ctx := context.Background()
	orch, _, _, _ := newTestOrchestrator(t, nil)

	_ = orch.Set(ctx, "s:1", []byte("v"), "user", nil)
	_, _, _ = orch.Get(ctx, "s:1")
	_, _, _ = orch.Get(ctx, "missing")

	stats := orch.Stats()
	if len(stats.Tiers) != 3 {
		t.Fatalf("계층 수가 3이 아닙니다: %d", len(stats.Tiers))
	}
	if stats.Tiers[0].Hits != 1 {
		t.Errorf("Fast 히트 수가 1이 아닙니다: %d", stats.Tiers[0].Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("미스 수가 1이 아닙니다: %d", stats.Misses)
	}
	if stats.Sets != 1 {
		t.Errorf("쓰기 수가 1이 아닙니다: %d", stats.Sets)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("히트율이 0.5가 아닙니다: %f", stats.HitRate)
	}
}

func TestOrchestratorRecoveryProbe(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.RecoveryInterval = 20 * time.Millisecond
	opts.Breakers[TierDistributed].BreakDuration = 30 * time.Millisecond

	orch, _, dist, _ := newTestOrchestrator(t, opts)

	// 서킷을 엽니다.
	dist.setFailure(transientErr())
	for i := 0; i < 3; i++ {
		_, _, _ = orch.Get(ctx, "probe:key")
	}
	slot := orch.byLevel[TierDistributed]
	if slot.breaker.State() != StateOpen {
		t.Fatalf("서킷이 열리지 않았습니다: %v", slot.breaker.State())
	}

	// 백엔드를 복구하면 프로브 루프가 서킷을 닫아야 합니다.
	dist.setFailure(nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slot.breaker.State() == StateClosed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("복구 프로브 후에도 서킷이 닫히지 않았습니다: %v", slot.breaker.State())
}
