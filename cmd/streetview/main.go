// Command streetview counts distinct Street View panoramas along Toronto's
// road network: download datasets, sample the centreline, crawl the metadata
// endpoint, and report the deduplicated total.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexwolson/toronto-streetview-count/acquisition"
	"github.com/alexwolson/toronto-streetview-count/config"
	"github.com/alexwolson/toronto-streetview-count/models"
	"github.com/alexwolson/toronto-streetview-count/pipeline"
	"github.com/alexwolson/toronto-streetview-count/store"
	"github.com/alexwolson/toronto-streetview-count/streetview"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "download":
		err = runDownload(os.Args[2:])
	case "prepare":
		err = runPrepare(os.Args[2:])
	case "crawl":
		err = runCrawl(os.Args[2:])
	case "count":
		err = runCount(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: streetview <command> [flags]

Commands:
  download   Fetch the boundary and road centreline datasets
  prepare    Sample the road network into crawlable points
  crawl      Query panorama metadata for pending points (resumable)
  count      Print the deduplicated panorama count
  status     Print crawl progress and per-road-type breakdown
  export     Write panorama and sample point tables to the output directory

Run 'streetview <command> -h' for command flags.
`)
}

// commonFlags registers the flags every subcommand shares.
type commonFlags struct {
	configPath string
	dataDir    string
	verbose    bool
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "streetview.yaml", "YAML config file (optional)")
	fs.StringVar(&c.dataDir, "data-dir", "", "Data directory override")
	fs.BoolVar(&c.verbose, "v", false, "Enable verbose logging")
	return c
}

// loadConfig builds the effective config: defaults, then the config file,
// then environment, then flags.
func loadConfig(c *commonFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFile(c.configPath, true); err != nil {
		return nil, err
	}

	if value, ok := config.EnvString("STREETVIEW_DATA_DIR"); ok {
		cfg.DataDir = value
	}
	if value, ok := config.EnvString("GOOGLE_MAPS_API_KEY"); ok {
		cfg.APIKey = value
	}
	if value, ok, err := config.EnvInt("STREETVIEW_QPS"); err != nil {
		return nil, err
	} else if ok {
		cfg.QPS = value
	}
	if value, ok := config.EnvString("STREETVIEW_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}

	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	cfg.Verbose = cfg.Verbose || c.verbose

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.DatabasePath())
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	common := registerCommon(fs)
	allowFallback := fs.Bool("allow-bbox-fallback", false,
		"Write a rectangular boundary from the bbox if the boundary download fails")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	dl := acquisition.NewDownloader(cfg)
	err = dl.FetchAll()
	if err != nil && *allowFallback && errors.Is(err, acquisition.ErrBoundaryDownload) {
		slog.Warn("boundary download failed, falling back to bbox rectangle", slog.Any("error", err))
		if err := acquisition.WriteBBoxBoundary(cfg.BoundaryFile(), cfg.BBox); err != nil {
			return err
		}
		err = dl.FetchAll()
	}
	return err
}

func runPrepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	common := registerCommon(fs)
	spacing := fs.Float64("spacing", 0, "Sample spacing in meters (default from config)")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	if *spacing > 0 {
		cfg.SpacingMeters = *spacing
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.New(cfg, st).Prepare(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Sampled %d points from %d road segments at %.0f m spacing\n",
		summary.SamplePoints, summary.SegmentsKept, summary.SpacingMeters)
	for roadType, count := range summary.PointsByRoadType {
		fmt.Printf("  %-15s %d\n", roadType, count)
	}
	return nil
}

func runCrawl(args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	common := registerCommon(fs)
	retryFailed := fs.Bool("retry-failed", false, "Reset failed points to pending before crawling")
	qps := fs.Int("qps", 0, "Requests per second override")
	concurrency := fs.Int("concurrency", 0, "Concurrent lookup override")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	if *qps > 0 {
		cfg.QPS = *qps
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.APIKey == "" {
		slog.Warn("no API key configured, set GOOGLE_MAPS_API_KEY")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight lookups to finish")
	}()

	metrics := streetview.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.New(cfg, st)
	stats, runErr := p.Crawl(ctx, pipeline.CrawlOptions{
		RetryFailed: *retryFailed,
		Metrics:     metrics,
	})

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if runErr == nil {
		if err := p.Export(context.Background()); err != nil {
			return err
		}
	}

	printCrawlSummary(stats, errors.Is(runErr, context.Canceled))
	return nil
}

func runCount(args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	common := registerCommon(fs)
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := pipeline.New(cfg, st).Summarize(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Unique panoramas: %d\n", summary.UniquePanoramas)
	fmt.Printf("Sample points:    %d (%d queried, %d failed)\n",
		summary.TotalSamplePoints, summary.PointsQueried, summary.PointsFailed)
	fmt.Printf("Requests:         %d\n", summary.TotalRequests)
	fmt.Printf("Success rate:     %.2f%%\n", summary.SuccessRate)
	if len(summary.PointsByRoadType) > 0 {
		fmt.Println("Points by road type:")
		for roadType, count := range summary.PointsByRoadType {
			fmt.Printf("  %-15s %d\n", roadType, count)
		}
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := registerCommon(fs)
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	haveBoundary := fileExists(cfg.BoundaryFile())
	haveCentreline := fileExists(cfg.CentrelineFile())
	haveDatabase := fileExists(cfg.DatabasePath())
	fmt.Println("Artifacts:")
	fmt.Printf("  boundary:   %s\n", presence(haveBoundary, cfg.BoundaryFile()))
	fmt.Printf("  centreline: %s\n", presence(haveCentreline, cfg.CentrelineFile()))
	fmt.Printf("  database:   %s\n", presence(haveDatabase, cfg.DatabasePath()))

	if !haveBoundary || !haveCentreline {
		fmt.Println("Next step: run 'streetview download'")
		return nil
	}
	if !haveDatabase {
		fmt.Println("Next step: run 'streetview prepare'")
		return nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	distribution, err := st.RoadTypeDistribution(ctx)
	if err != nil {
		return err
	}

	pending := stats.TotalSamplePoints - stats.PointsQueried - stats.PointsFailed
	fmt.Printf("Sample points:    %d\n", stats.TotalSamplePoints)
	fmt.Printf("  pending:        %d\n", pending)
	fmt.Printf("  queried:        %d\n", stats.PointsQueried)
	fmt.Printf("  failed:         %d\n", stats.PointsFailed)
	fmt.Printf("Unique panoramas: %d\n", stats.UniquePanoramas)
	fmt.Printf("Success rate:     %.2f%%\n", stats.SuccessRate())
	if len(distribution) > 0 {
		fmt.Println("Points by road type:")
		for _, d := range distribution {
			fmt.Printf("  %-15s %d\n", d.RoadType, d.Count)
		}
	}

	switch {
	case stats.TotalSamplePoints == 0:
		fmt.Println("Next step: run 'streetview prepare'")
	case pending > 0:
		fmt.Println("Next step: run 'streetview crawl'")
	default:
		fmt.Println("Next step: run 'streetview count'")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func presence(ok bool, path string) string {
	if ok {
		return path
	}
	return "missing (" + path + ")"
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	common := registerCommon(fs)
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return pipeline.New(cfg, st).Export(context.Background())
}

func printCrawlSummary(stats models.ProcessingStats, interrupted bool) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if interrupted {
		fmt.Println("Crawl interrupted (rerun to resume)")
	} else {
		fmt.Println("Crawl complete")
	}
	fmt.Printf("  Sample points:    %d\n", stats.TotalSamplePoints)
	fmt.Printf("  Queried:          %d\n", stats.PointsQueried)
	fmt.Printf("  Failed:           %d\n", stats.PointsFailed)
	fmt.Printf("  Unique panoramas: %d\n", stats.UniquePanoramas)
	fmt.Printf("  Requests:         %d\n", stats.TotalRequests)
	fmt.Printf("  Success rate:     %.2f%%\n", stats.SuccessRate())
	fmt.Printf("  Duration:         %v\n", stats.Duration().Round(time.Second))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
