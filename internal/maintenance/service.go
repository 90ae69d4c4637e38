// Package maintenance runs background upkeep jobs on cron schedules: the
// stale album-buffer sweep and the optional daily forward digest.
package maintenance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/config"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tghtml"
)

// Config is the runtime form of config.MaintenanceConfig.
type Config struct {
	SweepSpec  string
	SweepAge   time.Duration
	DigestSpec string
	DigestChat kit.ChatTarget
}

// FromConfig resolves the maintenance and relay sections into runtime form.
func FromConfig(mc config.MaintenanceConfig, rc config.RelayConfig) (Config, error) {
	age, err := config.ParseDurationOrDefault("relay.album_max_age", rc.AlbumMaxAge, 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	var chat kit.ChatTarget
	if dc := strings.TrimSpace(mc.DigestChat); dc != "" {
		if id, perr := strconv.ParseInt(dc, 10, 64); perr == nil {
			chat.ChatID = id
		} else {
			chat.Username = dc
		}
	}

	return Config{
		SweepSpec:  mc.SweepSpec,
		SweepAge:   age,
		DigestSpec: mc.DigestSpec,
		DigestChat: chat,
	}, nil
}

// ValidateSpecs checks the cron specs without registering any job.
func ValidateSpecs(mc config.MaintenanceConfig) error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if spec := strings.TrimSpace(mc.SweepSpec); spec != "" {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("maintenance.sweep_spec: %w", err)
		}
	}
	if spec := strings.TrimSpace(mc.DigestSpec); spec != "" {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("maintenance.digest_spec: %w", err)
		}
	}
	return nil
}

// Service owns the cron runner. Jobs are registered from the config at
// Start time; Apply restarts the runner when the schedule set changes.
type Service struct {
	log     logx.Logger
	relay   *relay.Service
	store   storage.Store
	adapter kit.Adapter
	parser  cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, rel *relay.Service, store storage.Store, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		relay:   rel,
		store:   store,
		adapter: adapter,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:    cfg,
	}
}

// Start registers the configured jobs and starts the cron runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser))

	if spec := strings.TrimSpace(s.cfg.SweepSpec); spec != "" {
		age := s.cfg.SweepAge
		if _, err := c.AddFunc(spec, func() { s.runSweep(age) }); err != nil {
			return fmt.Errorf("maintenance: sweep spec %q: %w", spec, err)
		}
	}
	if spec := strings.TrimSpace(s.cfg.DigestSpec); spec != "" {
		if s.store == nil {
			s.log.Warn("digest scheduled but storage is disabled; skipping job")
		} else {
			if _, err := c.AddFunc(spec, func() { s.runDigest(ctx) }); err != nil {
				return fmt.Errorf("maintenance: digest spec %q: %w", spec, err)
			}
		}
	}

	c.Start()
	s.c = c
	s.log.Info("maintenance started",
		logx.String("sweep", s.cfg.SweepSpec),
		logx.String("digest", s.cfg.DigestSpec))
	return nil
}

// Apply swaps the config and restarts the runner if it is live.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	stop := s.c.Stop()
	<-stop.Done()
	s.c = nil
	return s.startLocked(ctx)
}

// Stop halts the runner and waits for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runSweep(age time.Duration) {
	if n := s.relay.Aggregator().SweepStale(age); n > 0 {
		s.log.Warn("force-flushed stale album buffers", logx.Int("count", n), logx.Duration("max_age", age))
	}
}

func (s *Service) runDigest(ctx context.Context) {
	s.mu.Lock()
	chat := s.cfg.DigestChat
	s.mu.Unlock()
	if chat.ChatID == 0 && chat.Username == "" {
		s.log.Debug("digest chat not configured; skipping")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stats, err := s.store.StatsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.log.Error("digest stats query failed", logx.Err(err))
		return
	}

	text := formatDigest(stats)
	if _, err := s.adapter.SendText(ctx, chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		s.log.Error("digest send failed", logx.Err(err))
		return
	}
	s.log.Info("digest sent", logx.Int("forwards", stats.Total))
}

func formatDigest(st storage.ForwardStats) string {
	var b strings.Builder
	b.WriteString(string(tghtml.B("Forward digest (last 24h)")))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Forwards: %d\n", st.Total)
	fmt.Fprintf(&b, "Albums: %d\n", st.Albums)
	fmt.Fprintf(&b, "Items sent: %d", st.Items)
	return b.String()
}
