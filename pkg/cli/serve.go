package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"notifywatch/pkg/bus"
	"notifywatch/pkg/config"
	"notifywatch/pkg/delivery"
	"notifywatch/pkg/handler"
	"notifywatch/pkg/ignore"
	"notifywatch/pkg/journal"
	"notifywatch/pkg/logger"
	"notifywatch/pkg/metrics"
	"notifywatch/pkg/pending"
	"notifywatch/pkg/router"
	"notifywatch/pkg/rules"
	"notifywatch/pkg/server"
	"notifywatch/pkg/watch"
)

const shutdownTimeout = 5 * time.Second

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the forwarder daemon",
		Long: "Listens for desktop notifications on the session bus and for extension requests over HTTP. " +
			"SIGHUP reloads the rules, ignore list and pending rule from disk.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Setup(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			log := logger.Setup(logger.Options{
				Level:      cfg.Logging.Level,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
			})

			d, err := newDaemon(cfg, prometheus.DefaultRegisterer, bus.SessionDialer, log)
			if err != nil {
				return WrapExitError(ExitCommandError, "start daemon", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigChan)

			return d.run(cmd.Context(), sigChan)
		},
	}
}

// daemon owns every long-lived component of `serve`.
type daemon struct {
	cfg       *config.Config
	log       *slog.Logger
	rules     *rules.Store
	ignore    *ignore.Registry
	pending   *pending.Store
	journal   *journal.Journal
	metrics   *metrics.Metrics
	busRouter *router.Router
	server    *server.Server
	watcher   *watch.Watcher
	listener  *bus.Listener
}

func newDaemon(cfg *config.Config, reg prometheus.Registerer, dial bus.Dialer, log *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		log:     log,
		rules:   rules.NewStore(cfg.Storage.RulesPath(), log),
		ignore:  ignore.NewRegistry(cfg.Storage.IgnorePath(), log),
		pending: pending.NewStore(cfg.Storage.PendingPath(), log),
		metrics: metrics.New(reg),
	}
	d.reload()

	sink, err := delivery.New(delivery.Options{
		Method:  cfg.Delivery.Method,
		Timeout: cfg.Delivery.Timeout,
		Ntfy: delivery.NtfyOptions{
			Server: cfg.Delivery.Ntfy.Server,
			Topic:  cfg.Delivery.Ntfy.Topic,
			Token:  cfg.Delivery.Ntfy.Token,
		},
		Telegram: delivery.TelegramOptions{
			BotToken: cfg.Delivery.Telegram.BotToken,
			ChatID:   cfg.Delivery.Telegram.ChatID,
			APIURL:   cfg.Delivery.Telegram.APIURL,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, log)
		if err != nil {
			log.Warn("journal unavailable, history disabled", "error", err)
		} else {
			d.journal = j
		}
	}

	httpRouter := d.newRouter(router.SourceHTTP, sink)
	d.busRouter = d.newRouter(router.SourceBus, sink)

	deps := handler.Deps{
		Rules:   d.rules,
		Ignore:  d.ignore,
		Pending: d.pending,
		Router:  httpRouter,
		Metrics: d.metrics,
	}
	if d.journal != nil {
		deps.History = d.journal
	}
	d.server = server.New(cfg.Server.Listen, handler.New(deps, log), d.metrics, log)

	d.watcher = watch.New(cfg.Storage.Dir, log)
	d.watcher.Handle(cfg.Storage.RulesPath(), d.rules.Reload)
	d.watcher.Handle(cfg.Storage.IgnorePath(), d.ignore.Reload)
	d.watcher.Handle(cfg.Storage.PendingPath(), d.pending.Reload)

	if cfg.Bus.Enabled {
		d.listener = bus.NewListener(dial, log)
	}
	return d, nil
}

func (d *daemon) newRouter(source string, sink delivery.Sink) *router.Router {
	r := router.New(source, d.ignore, sink, d.log).WithMetrics(d.metrics)
	if d.journal != nil {
		r.WithJournal(d.journal)
	}
	return r
}

// reload re-reads all state files. Unreadable files are logged and treated
// as empty; the next write repairs them.
func (d *daemon) reload() {
	if err := d.rules.Reload(); err != nil {
		d.log.Error("failed to load rules", "path", d.cfg.Storage.RulesPath(), "error", err)
	}
	if err := d.ignore.Reload(); err != nil {
		d.log.Error("failed to load ignore list", "path", d.cfg.Storage.IgnorePath(), "error", err)
	}
	if err := d.pending.Reload(); err != nil {
		d.log.Error("failed to load pending rule", "path", d.cfg.Storage.PendingPath(), "error", err)
	}
}

func (d *daemon) run(parent context.Context, sigChan <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := d.server.Start(ctx); err != nil {
		_ = d.journal.Close()
		return WrapExitError(ExitCommandError, "start server", err)
	}
	g, gctx := errgroup.WithContext(ctx)

	if err := d.watcher.Start(gctx); err != nil {
		d.log.Warn("file watching disabled", "error", err)
	}

	if d.listener != nil {
		up := d.listener.Start(gctx)
		d.metrics.BusListenerUp(up)
		if up {
			g.Go(func() error {
				router.Pump(gctx, d.listener.Events(), d.busRouter)
				return nil
			})
		}
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGHUP:
					d.log.Info("received SIGHUP signal, reloading state files")
					d.reload()
				default:
					d.log.Info("received shutdown signal", "signal", sig)
					cancel()
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		err := d.server.Shutdown(shutdownCtx)
		if d.listener != nil {
			d.listener.Stop()
			d.metrics.BusListenerUp(false)
		}
		d.watcher.Stop()
		if err != nil {
			return errors.Join(errors.New("shutdown failed"), err)
		}
		return nil
	})

	err := g.Wait()
	if cerr := d.journal.Close(); cerr != nil {
		d.log.Warn("failed to close journal", "error", cerr)
	}
	return err
}
