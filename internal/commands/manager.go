package commands

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chankeeper/internal/storage"
	logx "chankeeper/pkg/logx"
)

type Config struct {
	// Prefix introduces commands, e.g. "!keeper". Empty disables the
	// message surface entirely.
	Prefix       string
	OwnerUserIDs []string
	// DefaultTimezone applies to rules authored without --tz.
	DefaultTimezone string
}

type Manager struct {
	mu  sync.RWMutex
	cfg Config

	cmds  map[string]Command
	store *storage.Store
	resp  Responder
	auth  Authorizer
	log   logx.Logger

	jobs chan func()
}

func NewManager(cfg Config, store *storage.Store, resp Responder, auth Authorizer, log logx.Logger) *Manager {
	m := &Manager{
		cfg:   cfg,
		cmds:  map[string]Command{},
		store: store,
		resp:  resp,
		auth:  auth,
		log:   log.With(logx.String("comp", "commands")),
		jobs:  make(chan func(), 64),
	}
	m.register()
	return m
}

// Apply updates prefix, owners and timezone default. Safe during hot-reload.
func (m *Manager) Apply(cfg Config) {
	cfg.OwnerUserIDs = append([]string(nil), cfg.OwnerUserIDs...)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) register() {
	for _, c := range []Command{
		{
			Name:        "set",
			Description: "create or replace a channel schedule",
			Usage:       `set <name> --at "9:00 AM" --delete "12h" [--lock "2h"] [--tz <zone>] [--category <id>] [--role <id>] [--message <text>]`,
			Access:      AccessManageGuild,
			Timeout:     10 * time.Second,
			Handle:      m.handleSet,
		},
		{
			Name:        "remove",
			Description: "remove a channel schedule",
			Usage:       "remove <name> [--category <id>]",
			Access:      AccessManageGuild,
			Timeout:     10 * time.Second,
			Handle:      m.handleRemove,
		},
		{
			Name:        "show",
			Description: "list this server's channel schedules",
			Usage:       "show",
			Access:      AccessEveryone,
			Timeout:     10 * time.Second,
			Handle:      m.handleShow,
		},
		{
			Name:        "help",
			Description: "show help",
			Usage:       "help",
			Access:      AccessEveryone,
			Timeout:     5 * time.Second,
			Handle:      m.handleHelp,
		},
	} {
		m.cmds[c.Name] = c
	}
}

// DispatchLoop consumes inbound messages until ctx is done. Handlers run on
// a bounded worker pool so one slow command cannot stall the feed.
func (m *Manager) DispatchLoop(ctx context.Context, msgs <-chan Message) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	m.log.Info("command dispatcher started",
		logx.Int("workers", workers), logx.Int("queue_cap", cap(m.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() { closeOnce.Do(func() { close(m.jobs) }) }

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command worker",
						logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			m.routeMessage(ctx, msg)
		}
	}
}

func (m *Manager) routeMessage(root context.Context, msg Message) {
	cfg := m.snapshot()
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		return
	}

	text := strings.TrimSpace(msg.Content)
	if text != prefix && !strings.HasPrefix(text, prefix+" ") {
		return
	}

	parts := tokenize(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		parts = []string{"help"}
	}
	name := strings.ToLower(parts[0])

	cmd, ok := m.cmds[name]
	if !ok {
		m.reply(root, msg.ChannelID, "unknown command. try `"+prefix+" help`")
		return
	}

	if cmd.Access == AccessManageGuild && !m.authorized(root, cfg, msg) {
		m.reply(root, msg.ChannelID, "you need the Manage Server permission for that")
		return
	}

	pos, flags, bools := parseFlags(parts[1:])
	rid := uuid.NewString()[:8]
	req := &Request{
		Msg:     msg,
		Command: cmd.Name,
		Args:    pos,
		Flags:   flags,
		Bools:   bools,
		ReqID:   rid,
		Log: m.log.With(
			logx.String("rid", rid),
			logx.String("guild", msg.GuildID),
			logx.String("from", msg.UserID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(root, req) }:
	default:
		m.reply(root, msg.ChannelID, "busy, try again")
	}
}

func (m *Manager) authorized(ctx context.Context, cfg Config, msg Message) bool {
	for _, id := range cfg.OwnerUserIDs {
		if id == msg.UserID {
			return true
		}
	}
	if m.auth == nil {
		return false
	}
	ok, err := m.auth.CanManageGuild(ctx, msg.GuildID, msg.UserID)
	if err != nil {
		m.log.Warn("permission check failed",
			logx.String("guild", msg.GuildID), logx.String("from", msg.UserID), logx.Err(err))
		return false
	}
	return ok
}

func (m *Manager) reply(ctx context.Context, channelID, text string) {
	if err := m.resp.SendText(ctx, channelID, text); err != nil {
		m.log.Warn("reply failed", logx.String("channel", channelID), logx.Err(err))
	}
}
