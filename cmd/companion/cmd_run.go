package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/keshon/companion/internal/ai"
	"github.com/keshon/companion/internal/analysis"
	"github.com/keshon/companion/internal/audience"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/discord"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/internal/jobs"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/storage"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/keshon/companion/pkg/logx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every persona's bot until interrupted",
	RunE:  runRun,
}

// relay forwards triggers to a dispatcher created after its producers.
type relay struct{ d *dispatch.Dispatcher }

func (r *relay) Submit(t dispatch.Trigger) { r.d.Submit(t) }

// openStateStore returns the gauge store selected by cfg and its closer.
func openStateStore(ctx context.Context, cfg *config.Config) (mind.StateStore, io.Closer, error) {
	switch cfg.StateBackend {
	case config.BackendRedis:
		rdb, err := cfg.Redis.NewRedisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStateStore(rdb, cfg.Redis.Prefix), rdb, nil
	default:
		s, err := storage.NewFileStateStore(cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	log := logx.With("main")
	cfg, ps, err := loadConfig()
	if err != nil {
		return err
	}
	var jobsCfg jobs.Config
	if err := config.Parse(&jobsCfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	store, closer, err := openStateStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer closer.Close()

	provider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create model provider: %w", err)
	}

	bus := eventbus.New(cfg.BusCapacity)
	defer bus.Close()
	lifecycle := eventbus.NewSync()
	book := audience.NewBook(audience.DefaultWindow)

	m := mind.New(cfg.Mind, mind.Deps{
		Bus:      bus,
		Store:    store,
		Baseline: ps.Baseline,
		Audience: book.Audience,
	})
	m.Observe(lifecycle)

	an := analysis.New(provider)
	submit := &relay{}
	fleet := discord.NewFleet(ps.All(), discord.Deps{
		History:  repo,
		Bus:      bus,
		Router:   an,
		Submit:   submit,
		Audience: book,
	})
	d := dispatch.New(cfg.Dispatch, dispatch.Deps{
		Bus:      bus,
		Sync:     lifecycle,
		Composer: analysis.NewComposer(provider, ps, repo, m),
		Sender:   fleet,
		Flow:     m,
	})
	submit.d = d

	runner := jobs.New(jobsCfg, jobs.Deps{
		Repo:     repo,
		Mind:     m,
		Bus:      bus,
		Analyzer: an,
		Personas: ps,
		Submit:   d,
		Audience: book,
	})
	sched := mind.NewScheduler(m, d, mind.DefaultDailySlots())

	m.Start(ctx)
	d.Start(ctx)
	if err := runner.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fleet.Run(gctx) })
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	log.Info().Int("agents", len(ps.All())).Str("state", cfg.StateBackend).Msg("companion started")

	err = g.Wait()
	stop()

	d.Wait()
	runner.Wait()
	m.Wait()
	if err != nil {
		log.Error().Err(err).Msg("companion stopped with error")
		return err
	}
	log.Info().Msg("companion exited cleanly")
	return nil
}
