package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chankeeper/internal/schedule"
	"chankeeper/internal/storage"
	logx "chankeeper/pkg/logx"
)

// A create that loses the record race must clean up the channel it just
// made instead of leaving two live channels for one rule.
func TestCreateConflictRollsBackDuplicate(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	eng, st := newTestEngine(t, Config{Interval: time.Minute}, gw)
	ctx := context.Background()

	r := nyRule()
	if err := st.UpsertRule(ctx, r); err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}

	// Simulate a competing create landing between our gateway call and our
	// state write.
	gw.onCreate = func(channelID string) {
		if err := st.RecordCreated(ctx, r.Key(), "chan-winner", time.Now().UTC()); err != nil {
			t.Errorf("competing RecordCreated: %v", err)
		}
	}

	if err := eng.RunTick(ctx, nyTrigger); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	inst, open, err := st.OpenInstance(ctx, r.Key())
	if err != nil || !open {
		t.Fatalf("OpenInstance = (%v, %v)", open, err)
	}
	if inst.ChannelID != "chan-winner" {
		t.Fatalf("open instance channel = %s, want chan-winner", inst.ChannelID)
	}
	if n := gw.countOps("delete:"); n != 1 {
		t.Fatalf("duplicate channel deletes = %d, want 1", n)
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingNotifier) ChannelCreated(ctx context.Context, rule schedule.Rule, channelID string) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func TestCreateNotifiesRoleOnce(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "keeper.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	notif := &countingNotifier{}
	eng := New(Config{Interval: time.Minute}, st, gw, notif, logx.Nop())
	ctx := context.Background()

	if err := st.UpsertRule(ctx, nyRule()); err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}
	if err := eng.RunTick(ctx, nyTrigger); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if err := eng.RunTick(ctx, nyTrigger.Add(time.Hour)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	notif.mu.Lock()
	defer notif.mu.Unlock()
	if notif.calls != 1 {
		t.Fatalf("notifier calls = %d, want 1", notif.calls)
	}
}
