package commands

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chankeeper/internal/schedule"
	"chankeeper/internal/storage"
	logx "chankeeper/pkg/logx"
)

type recordResponder struct {
	mu      sync.Mutex
	replies []string
	notify  chan string
}

func (r *recordResponder) SendText(ctx context.Context, channelID, text string) error {
	r.mu.Lock()
	r.replies = append(r.replies, text)
	r.mu.Unlock()
	if r.notify != nil {
		select {
		case r.notify <- text:
		case <-ctx.Done():
		}
	}
	return nil
}

func (r *recordResponder) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		t.Fatal("no replies recorded")
	}
	return r.replies[len(r.replies)-1]
}

type allowAuth struct{ userID string }

func (a allowAuth) CanManageGuild(ctx context.Context, guildID, userID string) (bool, error) {
	return userID == a.userID, nil
}

func newTestManager(t *testing.T, resp *recordResponder, auth Authorizer) *Manager {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "keeper.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewManager(Config{
		Prefix:          "!keeper",
		OwnerUserIDs:    []string{"owner1"},
		DefaultTimezone: "UTC",
	}, store, resp, auth, logx.Nop())
}

func setRequest(msg Message, args []string, flags map[string]string) *Request {
	return &Request{
		Msg:     msg,
		Command: "set",
		Args:    args,
		Flags:   flags,
		Bools:   map[string]bool{},
		ReqID:   "test",
		Log:     logx.Nop(),
	}
}

var testMsg = Message{
	GuildID:    "g1",
	ChannelID:  "chan-cmd",
	CategoryID: "cat1",
	UserID:     "mod1",
	Username:   "mod",
}

func TestSetStoresRuleAndShowListsIt(t *testing.T) {
	t.Parallel()

	resp := &recordResponder{}
	m := newTestManager(t, resp, allowAuth{userID: "mod1"})
	ctx := context.Background()

	err := m.handleSet(ctx, setRequest(testMsg, []string{"Standup"}, map[string]string{
		"at":     "9:00 AM",
		"delete": "12h",
		"lock":   "2h 30m",
		"tz":     "America/New_York",
		"role":   "role9",
	}))
	if err != nil {
		t.Fatalf("handleSet: %v", err)
	}
	if got := resp.last(t); !strings.Contains(got, "`standup` saved") {
		t.Fatalf("set reply = %q", got)
	}

	rules, err := m.store.ListGuildRules(ctx, "g1")
	if err != nil || len(rules) != 1 {
		t.Fatalf("rules = %v err = %v", rules, err)
	}
	r := rules[0]
	if r.Name != "standup" || r.CategoryID != "cat1" {
		t.Fatalf("rule key = %v", r.Key())
	}
	if r.At != (schedule.DailyTime{Hour: 9}) || r.Timezone != "America/New_York" {
		t.Fatalf("rule time = %v %s", r.At, r.Timezone)
	}
	if r.LockAfter != 2*time.Hour+30*time.Minute || r.DeleteAfter != 12*time.Hour {
		t.Fatalf("durations = %v %v", r.LockAfter, r.DeleteAfter)
	}

	if err := m.handleShow(ctx, setRequest(testMsg, nil, nil)); err != nil {
		t.Fatalf("handleShow: %v", err)
	}
	show := resp.last(t)
	for _, want := range []string{"`standup`", "9:00 AM", "2h 30m", "12h", "role9"} {
		if !strings.Contains(show, want) {
			t.Fatalf("show reply missing %q:\n%s", want, show)
		}
	}
}

func TestSetRejectsUnparseableTime(t *testing.T) {
	t.Parallel()

	resp := &recordResponder{}
	m := newTestManager(t, resp, allowAuth{userID: "mod1"})

	err := m.handleSet(context.Background(), setRequest(testMsg, []string{"standup"}, map[string]string{
		"at":     "14:30",
		"delete": "12h",
	}))
	if err != nil {
		t.Fatalf("handleSet returned internal error: %v", err)
	}
	if got := resp.last(t); !strings.Contains(got, "could not read") {
		t.Fatalf("reply = %q", got)
	}
	rules, _ := m.store.ListGuildRules(context.Background(), "g1")
	if len(rules) != 0 {
		t.Fatalf("bad input stored a rule: %v", rules)
	}
}

func TestSetRejectsLockNotBeforeDelete(t *testing.T) {
	t.Parallel()

	resp := &recordResponder{}
	m := newTestManager(t, resp, allowAuth{userID: "mod1"})

	err := m.handleSet(context.Background(), setRequest(testMsg, []string{"standup"}, map[string]string{
		"at":     "9:00 AM",
		"delete": "2h",
		"lock":   "3h",
	}))
	if err != nil {
		t.Fatalf("handleSet: %v", err)
	}
	if got := resp.last(t); !strings.Contains(got, "invalid") {
		t.Fatalf("reply = %q", got)
	}
}

func TestRemoveReportsMissingRule(t *testing.T) {
	t.Parallel()

	resp := &recordResponder{}
	m := newTestManager(t, resp, allowAuth{userID: "mod1"})
	ctx := context.Background()

	if err := m.handleSet(ctx, setRequest(testMsg, []string{"standup"}, map[string]string{
		"at": "9:00 AM", "delete": "12h",
	})); err != nil {
		t.Fatalf("handleSet: %v", err)
	}

	req := setRequest(testMsg, []string{"standup"}, map[string]string{})
	req.Command = "remove"
	if err := m.handleRemove(ctx, req); err != nil {
		t.Fatalf("handleRemove: %v", err)
	}
	if got := resp.last(t); !strings.Contains(got, "removed") {
		t.Fatalf("reply = %q", got)
	}

	if err := m.handleRemove(ctx, req); err != nil {
		t.Fatalf("handleRemove: %v", err)
	}
	if got := resp.last(t); !strings.Contains(got, "no schedule named") {
		t.Fatalf("reply = %q", got)
	}
}

func TestDispatchEnforcesManageGuild(t *testing.T) {
	t.Parallel()

	notify := make(chan string, 4)
	resp := &recordResponder{notify: notify}
	m := newTestManager(t, resp, allowAuth{userID: "mod1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan Message)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, msgs)
	}()

	wait := func() string {
		select {
		case s := <-notify:
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for reply")
			return ""
		}
	}

	// unauthorized member
	msg := testMsg
	msg.UserID = "rando"
	msg.Content = "!keeper remove standup"
	msgs <- msg
	if got := wait(); !strings.Contains(got, "Manage Server") {
		t.Fatalf("reply = %q", got)
	}

	// config owner bypasses the permission check
	msg.UserID = "owner1"
	msgs <- msg
	if got := wait(); !strings.Contains(got, "no schedule named") {
		t.Fatalf("reply = %q", got)
	}

	// show is open to everyone
	msg.UserID = "rando"
	msg.Content = "!keeper show"
	msgs <- msg
	if got := wait(); !strings.Contains(got, "no schedules") {
		t.Fatalf("reply = %q", got)
	}

	// non-prefixed chatter is ignored
	msg.Content = "hello there"
	msgs <- msg

	msg.Content = "!keeper bogus"
	msgs <- msg
	if got := wait(); !strings.Contains(got, "unknown command") {
		t.Fatalf("reply = %q", got)
	}

	cancel()
	<-done
}
