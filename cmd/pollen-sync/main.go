package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/pollen-sync/internal/config"
	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/syncer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand and override the environment.
type globalFlags struct {
	store     string
	format    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "pollen-sync",
		Short:         "Incremental pollen observation synchronizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.store, "store", "", "store file path (overrides POLLEN_STORE_PATH)")
	root.PersistentFlags().StringVar(&g.format, "format", "", "store format: csv|excel (default from extension)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "console|json")

	root.AddCommand(newSyncCmd(&g))
	root.AddCommand(newSampleCmd(&g))
	root.AddCommand(newServeCmd(&g))
	root.AddCommand(newCitiesCmd())
	root.AddCommand(newDistributionCmd(&g))
	return root
}

// loadConfig reads the environment, applies global flag overrides and
// initializes logging.
func loadConfig(g *globalFlags) (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.store != "" {
		cfg.StorePath = g.store
	}
	if g.format != "" {
		cfg.StoreFormat = strings.ToLower(g.format)
	}
	if g.logLevel != "" {
		cfg.LogLevel = strings.ToLower(g.logLevel)
	}
	if g.logFormat != "" {
		cfg.LogFormat = strings.ToLower(g.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// windowFlags select the coverage window on the command line.
type windowFlags struct {
	cities []string
	days   int
	start  string
	end    string
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&w.cities, "city", nil, "city codes to sync (default all, or POLLEN_CITIES)")
	cmd.Flags().IntVar(&w.days, "days", 0, "sync the last N days (overrides POLLEN_DAYS)")
	cmd.Flags().StringVar(&w.start, "start", "", "window start date YYYY-MM-DD")
	cmd.Flags().StringVar(&w.end, "end", "", "window end date YYYY-MM-DD")
}

// spec combines the flags with the configured window. Flags win.
func (w *windowFlags) spec(cfg *config.AppConfig) (syncer.WindowSpec, error) {
	spec := syncer.WindowSpec{
		Cities: cfg.Cities,
		Days:   cfg.Days,
		Start:  cfg.Start,
		End:    cfg.End,
	}
	if len(w.cities) > 0 {
		spec.Cities = w.cities
	}
	if w.days > 0 {
		spec.Days = w.days
		spec.Start, spec.End = time.Time{}, time.Time{}
	}
	if w.start != "" || w.end != "" {
		if w.start == "" || w.end == "" {
			return spec, errors.New("--start and --end must be given together")
		}
		start, err := pollen.ParseDate(w.start)
		if err != nil {
			return spec, fmt.Errorf("invalid --start: %w", err)
		}
		end, err := pollen.ParseDate(w.end)
		if err != nil {
			return spec, fmt.Errorf("invalid --end: %w", err)
		}
		spec.Start, spec.End = start, end
	}
	return spec, nil
}

func newSyncCmd(g *globalFlags) *cobra.Command {
	var (
		w        windowFlags
		source   string
		workers  int
		strategy string
		columns  string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch missing observations and merge them into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if source != "" {
				cfg.SourceName = source
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if strategy != "" {
				cfg.PlanStrategy = strategy
			}
			if columns != "" {
				cfg.MergeColumns = columns
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			spec, err := w.spec(cfg)
			if err != nil {
				return err
			}
			return runSync(cmd, cfg, spec)
		},
	}
	w.register(cmd)
	cmd.Flags().StringVar(&source, "source", "", "remote source: weatherdt|sample")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent fetch tasks")
	cmd.Flags().StringVar(&strategy, "strategy", "", "plan strategy: per-date|runs")
	cmd.Flags().StringVar(&columns, "columns", "", "merge column policy: intersect|union")
	return cmd
}

func newSampleCmd(g *globalFlags) *cobra.Command {
	var w windowFlags

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Fill the store from the offline sample source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			cfg.SourceName = sourceSample
			cfg.RequestDelay = 0
			cfg.MaxRetries = 0

			spec, err := w.spec(cfg)
			if err != nil {
				return err
			}
			return runSync(cmd, cfg, spec)
		},
	}
	w.register(cmd)
	return cmd
}

// runSync executes one pass and prints the report and level distribution.
// SIGINT and SIGTERM stop the run between tasks; progress is still saved.
func runSync(cmd *cobra.Command, cfg *config.AppConfig, spec syncer.WindowSpec) error {
	service, err := buildService(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := service.Sync(ctx, spec)
	if rep != nil {
		printReport(cmd, rep)
	}
	if err != nil {
		return err
	}

	dist, derr := service.Distribution("")
	if derr == nil {
		printDistribution(cmd, filterDistribution(dist, rep.Cities))
	}
	if rep.Cancelled {
		return context.Canceled
	}
	return nil
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync scheduler",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func newCitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cities",
		Short: "List supported city codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CODE\tNAME\tID")
			for _, c := range pollen.Cities {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Code, c.Name, c.ID)
			}
			return tw.Flush()
		},
	}
}

func newDistributionCmd(g *globalFlags) *cobra.Command {
	var city string

	cmd := &cobra.Command{
		Use:   "distribution",
		Short: "Print the level distribution of the stored observations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			service, err := buildService(cfg)
			if err != nil {
				return err
			}
			dist, err := service.Distribution(strings.ToLower(city))
			if err != nil {
				return fmt.Errorf("read %s: %w", cfg.StorePath, err)
			}
			printDistribution(cmd, dist)
			return nil
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "restrict to one city code")
	return cmd
}

func printReport(cmd *cobra.Command, rep *syncer.Report) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "window %s .. %s, %d cities\n",
		rep.Start.Format(pollen.DateLayout), rep.End.Format(pollen.DateLayout), len(rep.Cities))
	if rep.UpToDate {
		_, _ = fmt.Fprintln(out, "store already up to date")
		return
	}
	_, _ = fmt.Fprintf(out, "missing %d, tasks %d (failed %d, skipped %d)\n",
		rep.MissingBefore, rep.TasksPlanned, rep.TasksFailed, rep.TasksSkipped)
	_, _ = fmt.Fprintf(out, "merged %d (new %d, replaced %d), saved %t\n",
		rep.Merged, rep.Inserted, rep.Replaced, rep.Saved)
	if len(rep.Failed) > 0 {
		_, _ = fmt.Fprintf(out, "failed cities: %s\n", strings.Join(rep.Failed, ", "))
	}
	if len(rep.DroppedColumns) > 0 {
		_, _ = fmt.Fprintf(out, "dropped columns: %v\n", rep.DroppedColumns)
	}
}

func printDistribution(cmd *cobra.Command, dist []pollen.CityDistribution) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	header := []string{"CITY", "TOTAL"}
	for _, l := range pollen.Levels {
		header = append(header, strings.ToUpper(l.String()))
	}
	header = append(header, "UNKNOWN", "PEAK")
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, d := range dist {
		counts := make(map[pollen.Level]int, len(d.Levels))
		for _, lc := range d.Levels {
			counts[lc.Level] = lc.Count
		}
		row := []string{d.City, fmt.Sprint(d.Total)}
		for _, l := range pollen.Levels {
			row = append(row, fmt.Sprint(counts[l]))
		}
		row = append(row, fmt.Sprint(d.Unknown), d.Peak.String())
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func filterDistribution(dist []pollen.CityDistribution, cities []string) []pollen.CityDistribution {
	want := make(map[string]struct{}, len(cities))
	for _, c := range cities {
		want[c] = struct{}{}
	}
	out := dist[:0]
	for _, d := range dist {
		if _, ok := want[d.City]; ok {
			out = append(out, d)
		}
	}
	return out
}
