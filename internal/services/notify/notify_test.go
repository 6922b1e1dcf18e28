package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chankeeper/internal/gateway"
	"chankeeper/internal/schedule"
	logx "chankeeper/pkg/logx"
)

type fanoutGateway struct {
	mu      sync.Mutex
	members []gateway.Member
	dms     []string
	failFor map[string]bool
}

func (f *fanoutGateway) CreateChannel(ctx context.Context, req gateway.CreateRequest) (string, error) {
	return "", errors.New("not used")
}

func (f *fanoutGateway) RestrictAccess(ctx context.Context, guildID, channelID, roleExempt string) error {
	return errors.New("not used")
}

func (f *fanoutGateway) DeleteChannel(ctx context.Context, channelID string) error {
	return errors.New("not used")
}

func (f *fanoutGateway) RoleMembers(ctx context.Context, guildID, roleID string) ([]gateway.Member, error) {
	return f.members, nil
}

func (f *fanoutGateway) SendDM(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[userID] {
		return errors.New("cannot DM user")
	}
	f.dms = append(f.dms, userID)
	return nil
}

func testRule() schedule.Rule {
	return schedule.Rule{
		GuildID:     "g1",
		CategoryID:  "c1",
		Name:        "room",
		At:          schedule.DailyTime{Hour: 9},
		Timezone:    "UTC",
		DeleteAfter: time.Hour,
		RoleID:      "role1",
		Content:     "we are live",
	}
}

func TestFanoutSkipsFailedMembers(t *testing.T) {
	t.Parallel()
	gw := &fanoutGateway{
		members: []gateway.Member{{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}},
		failFor: map[string]bool{"u2": true},
	}
	svc := New(Config{Enabled: true, RatePerSec: 1000}, gw, logx.Nop())

	svc.ChannelCreated(context.Background(), testRule(), "chan-1")
	svc.Stop(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.dms) != 2 {
		t.Fatalf("dms sent = %v, want u1 and u3", gw.dms)
	}

	hist := svc.History()
	if len(hist) != 1 || hist[0].Sent != 2 || hist[0].Total != 3 {
		t.Fatalf("history = %+v, want one delivery with 2/3 sent", hist)
	}
}

func TestFanoutDisabledOrNoRole(t *testing.T) {
	t.Parallel()
	gw := &fanoutGateway{members: []gateway.Member{{UserID: "u1"}}}

	disabled := New(Config{Enabled: false, RatePerSec: 1000}, gw, logx.Nop())
	disabled.ChannelCreated(context.Background(), testRule(), "chan-1")
	disabled.Stop(context.Background())

	noRole := New(Config{Enabled: true, RatePerSec: 1000}, gw, logx.Nop())
	r := testRule()
	r.RoleID = ""
	noRole.ChannelCreated(context.Background(), r, "chan-1")
	noRole.Stop(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.dms) != 0 {
		t.Fatalf("dms sent = %v, want none", gw.dms)
	}
}
