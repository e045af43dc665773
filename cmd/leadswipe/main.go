// Package main is the leadswipe command: the HTTP API that scrapes
// entrepreneur groups for leads, plus one-shot and catalog commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/engine/pipeline"
	"github.com/leadswipe/leadswipe-api/engine/sources"
	"github.com/leadswipe/leadswipe-api/pkg/natsutil"
	"github.com/leadswipe/leadswipe-api/pkg/scheduler"
)

var version = "0.3.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the settings shared by every subcommand.
type options struct {
	envFile string
	groups  string
	cfg     Config
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "leadswipe",
		Short:        "Find business opportunities in entrepreneur groups",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			opts.cfg = loadConfig()
			if opts.groups != "" {
				opts.cfg.GroupsConfig = opts.groups
			}
			return nil
		},
	}
	root.SetVersionTemplate("leadswipe version {{.Version}}\n")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&opts.groups, "groups", "", "groups catalog path (overrides GROUPS_CONFIG)")

	root.AddCommand(newServeCmd(opts, logger))
	root.AddCommand(newRunCmd(opts, logger))
	root.AddCommand(newGroupsCmd(opts))
	root.AddCommand(newWatchCmd(opts, logger))
	return root
}

func newServeCmd(opts *options, logger *slog.Logger) *cobra.Command {
	var (
		port       string
		noSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the run worker and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				opts.cfg.Port = port
			}
			if noSchedule {
				opts.cfg.Schedule = ""
			}
			return serve(cmd.Context(), opts.cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "disable scheduled runs")
	return cmd
}

func serve(parent context.Context, cfg Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(cfg, a.ctl, logger)
	if err != nil {
		return err
	}

	handler := newHandler(&server{
		ctl:        a.ctl,
		dispatcher: a.dispatcher,
		metrics:    a.registry,
		logger:     logger,
		now:        time.Now,
	}, cfg.CORSOrigin)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ctl.Run(ctx) })
	g.Go(func() error {
		logger.Info("api server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	if sched != nil {
		g.Go(func() error { return sched.Run(ctx) })
	}
	return g.Wait()
}

// newScheduler registers the scheduled scrape. It returns nil when
// scheduling is disabled.
func newScheduler(cfg Config, ctl *pipeline.Controller, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if cfg.Schedule == "" {
		return nil, nil
	}
	sched, err := scheduler.New(cfg.Timezone, logger)
	if err != nil {
		return nil, err
	}
	if err := sched.AddJob("scrape", cfg.Schedule, scheduledRun(ctl)); err != nil {
		return nil, err
	}
	return sched, nil
}

// scheduledRun starts a run over every group. A run already in progress
// makes the tick a no-op.
func scheduledRun(ctl *pipeline.Controller) scheduler.Job {
	return func(ctx context.Context) error {
		sess, err := ctl.Start(ctx, sources.Selection{All: true})
		if err != nil {
			return fmt.Errorf("scheduled run: %w", err)
		}
		return pipeline.Wait(ctx, sess)
	}
}

func newRunCmd(opts *options, logger *slog.Logger) *cobra.Command {
	var (
		ids     []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one run in the foreground and print its final status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := buildApp(ctx, opts.cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sel := sources.Selection{All: len(ids) == 0, IDs: ids}
			go a.ctl.Run(ctx)
			sess, err := a.ctl.Start(ctx, sel)
			if err != nil {
				return err
			}
			if err := pipeline.Wait(ctx, sess); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			snap := sess.Snapshot()
			if err := enc.Encode(snap); err != nil {
				return err
			}
			if snap.Error != "" {
				return errors.New(snap.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&ids, "group", "g", nil, "group ids to scrape (default all)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "abort the run after this long")
	return cmd
}

func newGroupsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the configured groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := sources.File{Path: opts.cfg.GroupsConfig}.Load()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tURL")
			for _, g := range cat.Sources {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, g.URL)
			}
			fmt.Fprintf(tw, "\n%d groups, %d posts per group\n", len(cat.Sources), cat.PostsPerSource)
			return tw.Flush()
		},
	}
}

func newWatchCmd(opts *options, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print run events published on NATS until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.NATSURL == "" {
				return errors.New("NATS_URL is not set")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			nc, err := natsutil.Connect(opts.cfg.NATSURL, "leadswipe-watch", logger)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			sub, err := delivery.SubscribeRuns(nc, opts.cfg.NATSSubject, func(_ context.Context, ev delivery.RunEvent) {
				printEvent(out, ev)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			<-ctx.Done()
			return nil
		},
	}
}

// printEvent writes one line per run event.
func printEvent(w io.Writer, ev delivery.RunEvent) {
	fmt.Fprintf(w, "%s %s %s groups=%d posts=%d opportunities=%d cost=$%.4f",
		ev.At.Format(time.RFC3339), ev.SessionID, ev.State, len(ev.Sources), ev.TotalItems, ev.Opportunities, ev.Cost)
	if ev.Error != "" {
		fmt.Fprintf(w, " error=%q", ev.Error)
	}
	fmt.Fprintln(w)
}
