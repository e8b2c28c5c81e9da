package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/syncworker"
	"github.com/Aman-CERP/searchview/internal/view"
	"github.com/Aman-CERP/searchview/internal/watcher"
)

type serveOptions struct {
	metricsAddr string
	create      []string
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve [view...]",
		Short: "Keep views open and synced in the background",
		Long: `Opens the named views (every view in the data directory by default) and
registers them with one shared sync worker, which commits memory buffers
and consolidates persisted stores on the configured interval.

Changes to a view's view.yaml are applied while serving. SIGINT or
SIGTERM flushes every view and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().StringSliceVar(&opts.create, "create", nil, "Create these views if missing")
	return cmd
}

func (a *app) runServe(ctx context.Context, cmd *cobra.Command, names []string, opts serveOptions) error {
	if len(names) == 0 {
		var err error
		if names, err = a.listViews(); err != nil {
			return err
		}
	}
	for _, c := range opts.create {
		if !slices.Contains(names, c) {
			names = append(names, c)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no views in %s (use --create <name>)", a.cfg.Paths.DataDir)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	workerOpts := []syncworker.Option{
		syncworker.WithLogger(a.logger),
		syncworker.WithMetrics(syncworker.NewMetrics(reg)),
	}
	if a.cfg.Sync.MaxFailures > 0 {
		workerOpts = append(workerOpts, syncworker.WithFailureBreaker(a.cfg.Sync.MaxFailures, a.cfg.Sync.ResetTimeout))
	}
	// each view's tasks run on that view's sync properties
	worker := syncworker.New(a.cfg, workerOpts...)
	worker.Start(ctx)
	defer worker.Close()

	views := make([]*view.View, 0, len(names))
	defer func() {
		// views flush their memory buffers on close
		for _, v := range views {
			if err := v.Close(); err != nil {
				a.logger.Error("view_close_failed", slog.String("view", v.Name()), slog.String("error", err.Error()))
			}
		}
	}()
	for _, name := range names {
		v, err := a.openView(ctx, name, slices.Contains(opts.create, name), worker)
		if err != nil {
			return fmt.Errorf("open view %s: %w", name, err)
		}
		views = append(views, v)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Watch.Enabled {
		w, err := watcher.New(a.cfg.WatcherOptions(), a.logger)
		if err != nil {
			return err
		}
		for _, v := range views {
			if err := w.Watch(v.DataDir(), v); err != nil {
				_ = w.Stop()
				return err
			}
		}
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	out := output.New(cmd.ErrOrStderr())
	out.Successf("Serving %s from %s", plural(len(views), "view"), a.cfg.Paths.DataDir)
	a.logger.Info("serve_started",
		slog.Int("views", len(views)),
		slog.String("data_dir", a.cfg.Paths.DataDir),
		slog.Duration("sync_interval", a.cfg.Sync.Interval),
		slog.String("metrics_addr", opts.metricsAddr))

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()
	a.logger.Info("serve_stopping", slog.Uint64("cycles", worker.Cycles()))
	return err
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
