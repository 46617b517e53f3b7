package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freeeve/beverage-bandits/internal/model"
)

func TestReaperSweep(t *testing.T) {
	repo := newMockBattleRepo()
	ctx := context.Background()

	old, _ := repo.Create(ctx, "user-1", "d", "#E#")
	repo.battles[old.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
	fresh, _ := repo.Create(ctx, "user-1", "d", "#E#")
	done, _ := repo.Create(ctx, "user-1", "d", "#E#")
	repo.battles[done.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
	repo.SetFinished(ctx, done.ID, model.CachedResult{Outcome: 1}, false)

	r := NewReaper(nil, repo, nil, time.Hour)
	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 reaped battle, got %d", n)
	}
	if got := repo.battles[old.ID]; got.Status != model.StatusFailed || got.Error != ReapReason {
		t.Errorf("old battle not reaped: %+v", got)
	}
	if repo.battles[fresh.ID].Status != model.StatusRunning {
		t.Error("fresh battle must keep running")
	}
	if repo.battles[done.ID].Status != model.StatusFinished {
		t.Error("finished battle must not be touched")
	}
	if n := r.Sweep(ctx); n != 0 {
		t.Errorf("second sweep should reap nothing, got %d", n)
	}
}

func TestReaperSweepSkipsLiveBattles(t *testing.T) {
	repo := newMockBattleRepo()
	cache := newMockCache()
	ctx := context.Background()

	live, _ := repo.Create(ctx, "user-1", "d", "#E#")
	repo.battles[live.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
	cache.status[live.ID] = 9000
	dead, _ := repo.Create(ctx, "user-1", "d", "#E#")
	repo.battles[dead.ID].CreatedAt = time.Now().Add(-2 * time.Hour)

	r := NewReaper(nil, repo, cache, time.Hour)
	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 reaped battle, got %d", n)
	}
	if repo.battles[live.ID].Status != model.StatusRunning {
		t.Error("battle still reporting rounds must not be reaped")
	}
	if repo.battles[dead.ID].Status != model.StatusFailed {
		t.Error("battle without live status must be reaped")
	}

	// The live battle finishes after the sweep and keeps its result.
	if err := repo.SetFinished(ctx, live.ID, model.CachedResult{Outcome: 42}, false); err != nil {
		t.Fatal(err)
	}
	if got := repo.battles[live.ID]; got.Status != model.StatusFinished || got.Outcome != 42 {
		t.Errorf("expected finished battle, got %+v", got)
	}
}

func TestReaperSweepStatusError(t *testing.T) {
	repo := newMockBattleRepo()
	cache := newMockCache()
	cache.statusErr = errors.New("redis down")
	ctx := context.Background()

	b, _ := repo.Create(ctx, "user-1", "d", "#E#")
	repo.battles[b.ID].CreatedAt = time.Now().Add(-2 * time.Hour)

	r := NewReaper(nil, repo, cache, time.Hour)
	if n := r.Sweep(ctx); n != 0 {
		t.Fatalf("expected nothing reaped while status is unreadable, got %d", n)
	}
	if repo.battles[b.ID].Status != model.StatusRunning {
		t.Error("battle must keep running")
	}
}

func TestSetFinishedAfterReap(t *testing.T) {
	repo := newMockBattleRepo()
	ctx := context.Background()
	b, _ := repo.Create(ctx, "user-1", "d", "#E#")

	if err := repo.SetFailed(ctx, b.ID, ReapReason); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetFinished(ctx, b.ID, model.CachedResult{Outcome: 42, Winner: "elf"}, false); err != nil {
		t.Fatal(err)
	}
	got := repo.battles[b.ID]
	if got.Status != model.StatusFailed || got.Error != ReapReason || got.Outcome != 0 {
		t.Errorf("reaped battle must stay failed, got %+v", got)
	}
}

func TestReaperHandleExpiry(t *testing.T) {
	repo := newMockBattleRepo()
	ctx := context.Background()
	b, _ := repo.Create(ctx, "user-1", "d", "#E#")
	r := NewReaper(nil, repo, nil, time.Hour)

	r.handleExpiry(ctx, "battle:result:"+b.ID)
	r.handleExpiry(ctx, "game:"+b.ID+":timer")
	if repo.battles[b.ID].Status != model.StatusRunning {
		t.Fatal("unrelated keys must be ignored")
	}

	r.handleExpiry(ctx, "battle:"+b.ID+":round")
	if repo.battles[b.ID].Status != model.StatusFailed {
		t.Errorf("expected battle reaped, got %s", repo.battles[b.ID].Status)
	}
	r.handleExpiry(ctx, "battle:missing:round")
}

func TestBattleIDFromStatusKey(t *testing.T) {
	cases := []struct {
		key  string
		id   string
		want bool
	}{
		{"battle:abc:round", "abc", true},
		{"battle::round", "", false},
		{"battle:result:abc", "", false},
		{"battle:abc", "", false},
		{"other:abc:round", "", false},
	}
	for _, tc := range cases {
		id, ok := battleIDFromStatusKey(tc.key)
		if ok != tc.want || id != tc.id {
			t.Errorf("%q: got (%q, %v), want (%q, %v)", tc.key, id, ok, tc.id, tc.want)
		}
	}
}

func TestReaperStartStops(t *testing.T) {
	repo := newMockBattleRepo()
	r := NewReaper(nil, repo, nil, time.Hour)
	r.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}
