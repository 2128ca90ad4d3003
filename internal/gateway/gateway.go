package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/chickenbot/internal/bot"
	"github.com/stellarlinkco/chickenbot/internal/bus"
	"github.com/stellarlinkco/chickenbot/internal/config"
	"github.com/stellarlinkco/chickenbot/internal/cooldown"
	"github.com/stellarlinkco/chickenbot/internal/cron"
	"github.com/stellarlinkco/chickenbot/internal/journal"
	"github.com/stellarlinkco/chickenbot/internal/notify"
	"github.com/stellarlinkco/chickenbot/internal/platform"
	"github.com/stellarlinkco/chickenbot/internal/reddit"
	"github.com/stellarlinkco/chickenbot/internal/responses"
	"github.com/stellarlinkco/chickenbot/internal/store"
	"golang.org/x/sync/errgroup"
)

// Options for creating a Gateway
type Options struct {
	Platform        platform.Platform // defaults to the Reddit API client
	TelegramFactory notify.BotFactory
	SignalChan      chan os.Signal // for testing signal handling
	Now             func() time.Time
}

// Gateway owns the scan and inbox workers and the state they share.
type Gateway struct {
	cfg        *config.Config
	durations  config.Durations
	platform   platform.Platform
	store      *store.Store
	journal    *journal.Journal
	queue      *responses.Queue
	counters   *bot.Counters
	bus        *bus.MessageBus
	env        *bot.Env
	scanner    *bot.Scanner
	removal    *bot.RemovalHandler
	scanSched  rcron.Schedule
	inboxSched rcron.Schedule
	signalChan chan os.Signal
	closeOnce  sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions loads all local state and wires the workers. Nothing is
// sent to the platform until Run.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	g := &Gateway{cfg: cfg, durations: d, signalChan: opts.SignalChan}

	g.scanSched, err = cron.Parse(cfg.Bot.ScanSchedule)
	if err != nil {
		return nil, &config.Error{Field: "bot.scanSchedule", Reason: err.Error()}
	}
	g.inboxSched, err = cron.Parse(cfg.Bot.InboxSchedule)
	if err != nil {
		return nil, &config.Error{Field: "bot.inboxSchedule", Reason: err.Error()}
	}

	g.platform = opts.Platform
	if g.platform == nil {
		g.platform = reddit.New(context.Background(), cfg.Reddit)
	}

	// State store
	g.store, err = store.Open(cfg.Paths.StateDBPath())
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	if err := g.load(cfg, opts, now); err != nil {
		g.store.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) load(cfg *config.Config, opts Options, now func() time.Time) error {
	var err error
	g.journal, err = journal.Open(journal.Paths{
		Replies:   cfg.Paths.ReplyLogPath(),
		Incidents: cfg.Paths.ForbiddenLogPath(),
		Errors:    cfg.Paths.ErrorLogPath(),
	})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	// Responses
	g.queue, err = responses.Open(responses.FileSource(cfg.Paths.ResponsesPath()), g.store)
	if errors.Is(err, responses.ErrEmptyCorpus) || errors.Is(err, os.ErrNotExist) {
		return &config.Error{Field: "paths.responses", Reason: err.Error()}
	}
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}

	blacklist, err := bot.LoadBlacklist(cfg.Paths.BlacklistPath())
	if err != nil {
		return err
	}

	replies, err := journal.CountReplies(cfg.Paths.ReplyLogPath())
	if err != nil {
		return fmt.Errorf("count replies: %w", err)
	}
	g.counters = bot.NewCounters(cfg.Bot.CounterStart + replies)

	watermark, ok, err := g.store.LoadWatermark()
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	if !ok {
		watermark = now()
	}

	// Event bus and optional operator notifications
	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	if cfg.Notify.Telegram.Enabled {
		factory := opts.TelegramFactory
		var tg *notify.Telegram
		if factory == nil {
			tg, err = notify.NewTelegram(cfg.Notify.Telegram)
		} else {
			tg, err = notify.NewTelegramWithFactory(cfg.Notify.Telegram, factory)
		}
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		g.bus.Subscribe(tg.Handle)
	}

	g.env = &bot.Env{
		Platform:    g.platform,
		Registry:    cooldown.New(g.durations.UserCooldown, g.durations.UserRefresh, now()),
		Journal:     g.journal,
		Events:      g.bus,
		CallTimeout: g.durations.CallTimeout,
		Now:         now,
	}
	filter := &bot.Filter{Question: cfg.Bot.Question, Blacklist: blacklist, Registry: g.env.Registry}
	dispatcher := bot.NewDispatcher(g.env, g.queue, g.counters)
	g.scanner = bot.NewScanner(g.env, cfg.Bot.Subreddit, filter, dispatcher, g.store, watermark)
	g.removal = bot.NewRemovalHandler(g.env)

	log.Printf("[gateway] %d responses queued, %d blacklisted, %d replies so far, watermark %s",
		g.queue.Len(), len(blacklist), g.counters.Total(), watermark.Format(time.RFC3339))
	return nil
}

// Counts returns the total and session reply counters.
func (g *Gateway) Counts() (total, session int) {
	return g.counters.Total(), g.counters.Session()
}

// Run resolves the bot identity, seeds the cooldown registry, then runs the
// scan and inbox workers until a signal arrives or ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	defer func() {
		if err := g.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, g.durations.CallTimeout)
	me, err := g.platform.Me(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	g.env.BotName = me

	if n, err := bot.SeedCooldown(ctx, g.env); err != nil {
		log.Printf("[gateway] seed cooldown warning: %v", err)
	} else {
		log.Printf("[gateway] %d recently replied authors on cooldown", n)
	}
	if err := g.scanner.PrimeAnchor(ctx); err != nil {
		log.Printf("[gateway] initial anchor warning: %v", err)
	} else if a := g.scanner.Anchor(); a != "" {
		log.Printf("[gateway] newest matching post: %s", a)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.bus.Dispatch(egCtx)
		return nil
	})
	eg.Go(func() error {
		cron.Loop(egCtx, "scanner", g.scanSched, func(c context.Context) { g.scanner.Cycle(c) })
		return nil
	})
	eg.Go(func() error {
		cron.Loop(egCtx, "inbox", g.inboxSched, func(c context.Context) { g.removal.Cycle(c) })
		return nil
	})
	log.Printf("[gateway] running as u/%s on r/%s", me, g.cfg.Bot.Subreddit)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	stop()

	done := make(chan struct{})
	go func() {
		eg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(g.durations.ShutdownGrace):
		log.Printf("[gateway] workers still busy after %s, not waiting", g.durations.ShutdownGrace)
	}

	total, session := g.Counts()
	log.Printf("[gateway] stopped (%d replies in total, %d in this session)", total, session)
	return nil
}

// Close releases the state store. Run calls it on the way out.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.store.Close()
		log.Printf("[gateway] shutdown complete")
	})
	return err
}
