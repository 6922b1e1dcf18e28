// Package notify fans out direct-message announcements when the engine
// creates a channel for a role-restricted rule.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chankeeper/internal/gateway"
	"chankeeper/internal/schedule"
	logx "chankeeper/pkg/logx"
)

type Config struct {
	Enabled bool
	// RatePerSec caps DM sends; Discord throttles DM creation hard.
	RatePerSec  int
	HistorySize int
}

// Delivery records one completed fanout for inspection.
type Delivery struct {
	Rule      schedule.Key
	ChannelID string
	Sent      int
	Total     int
	At        time.Time
}

type Service struct {
	gw  gateway.Gateway
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	history []Delivery

	wg sync.WaitGroup
}

func New(cfg Config, gw gateway.Gateway, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{gw: gw, log: log}
	s.Apply(cfg)
	return s
}

// Apply updates fanout settings. Safe during hot-reload; in-flight fanouts
// keep the limiter they started with.
func (s *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.mu.Unlock()
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// ChannelCreated announces the channel to every member of the rule's role.
// The fanout runs in the background so a large role never stalls the
// engine's tick; per-member failures are skipped (closed DMs are common).
func (s *Service) ChannelCreated(ctx context.Context, rule schedule.Rule, channelID string) {
	cfg, _ := s.snapshot()
	if !cfg.Enabled || rule.RoleID == "" || rule.Content == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fanout(ctx, rule, channelID)
	}()
}

func (s *Service) fanout(ctx context.Context, rule schedule.Rule, channelID string) {
	log := s.log.With(logx.String("rule", rule.Key().String()), logx.String("channel", channelID))
	_, limiter := s.snapshot()

	members, err := s.gw.RoleMembers(ctx, rule.GuildID, rule.RoleID)
	if err != nil {
		log.Warn("role member listing failed; announcement skipped",
			logx.String("role", rule.RoleID), logx.Err(err))
		return
	}

	text := rule.Content + "\n<#" + channelID + ">"
	sent := 0
	for _, m := range members {
		if err := limiter.Wait(ctx); err != nil {
			log.Debug("announcement fanout canceled", logx.Err(err))
			break
		}
		if err := s.gw.SendDM(ctx, m.UserID, text); err != nil {
			log.Debug("dm skipped", logx.String("user", m.UserID), logx.Err(err))
			continue
		}
		sent++
	}
	log.Info("channel announced", logx.Int("sent", sent), logx.Int("members", len(members)))

	s.appendHistory(Delivery{
		Rule:      rule.Key(),
		ChannelID: channelID,
		Sent:      sent,
		Total:     len(members),
		At:        time.Now(),
	})
}

func (s *Service) appendHistory(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, d)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
}

// History returns recent deliveries, newest last.
func (s *Service) History() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.history...)
}

// Stop waits for in-flight fanouts, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
