package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"xrseg/internal/config"
	"xrseg/internal/logger"
	"xrseg/internal/model"
	"xrseg/internal/pipeline"
	"xrseg/internal/runlog"
	"xrseg/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "experiment file (YAML); defaults to the backbone preset")
		backbone   = flag.String("backbone", "densenet201", "backbone preset used when -config is not given")
		predDir    = flag.String("pred", "", "directory of predicted masks")
		targetDir  = flag.String("target", "", "directory of ground-truth masks")
		batchSize  = flag.Int("batch", 0, "pairs per batch (overrides the experiment file)")
		runlogPath = flag.String("runlog", "", "SQLite run history (overrides the experiment file)")
		listen     = flag.String("listen", "", "serve Prometheus metrics on this address; keeps serving after the report until interrupted")
		listRuns   = flag.Bool("runs", false, "list the runs recorded in the run history and exit")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		configPath: *configPath,
		backbone:   *backbone,
		predDir:    *predDir,
		targetDir:  *targetDir,
		batchSize:  *batchSize,
		runlogPath: *runlogPath,
		listen:     *listen,
		listRuns:   *listRuns,
	}, os.Stdout); err != nil {
		logger.NewConsoleLogger(logger.LevelFromEnv()).Error("Main", err, nil)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	backbone   string
	predDir    string
	targetDir  string
	batchSize  int
	runlogPath string
	listen     string
	listRuns   bool

	// logOut receives JSON logs instead of the console on stderr.
	logOut io.Writer
	// onListen is told the bound metrics address.
	onListen func(net.Addr)
}

func newLogger(opts options, configured string) logger.Logger {
	level := logger.ResolveLevel(configured)
	if opts.logOut != nil {
		return logger.NewZerolog(opts.logOut, level)
	}
	return logger.NewConsoleLogger(level)
}

func loadConfig(opts options) (*config.File, error) {
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath)
	}
	b, err := model.ParseBackbone(opts.backbone)
	if err != nil {
		return nil, err
	}
	return config.Default(b), nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	file, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(opts, file.LogLevel)
	if opts.batchSize > 0 {
		file.Evaluation.BatchSize = opts.batchSize
	}
	if opts.runlogPath != "" {
		file.RunLog.Path = opts.runlogPath
	}
	if opts.listen != "" {
		file.Telemetry.Listen = opts.listen
	}

	var store *runlog.Store
	if file.RunLog.Path != "" {
		store, err = runlog.Open(file.RunLog.Path)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if opts.listRuns {
		if store == nil {
			return fmt.Errorf("-runs needs a run history (-runlog or runlog.path)")
		}
		return printRuns(out, store)
	}

	if opts.predDir == "" || opts.targetDir == "" {
		return fmt.Errorf("both -pred and -target are required")
	}

	cfg, err := file.Model()
	if err != nil {
		return err
	}
	harness, err := model.NewHarness(cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewCollector(reg)
	if err != nil {
		return err
	}
	var served chan error
	if file.Telemetry.Listen != "" {
		ln, err := net.Listen("tcp", file.Telemetry.Listen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		if opts.onListen != nil {
			opts.onListen(ln.Addr())
		}
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		served = make(chan error, 1)
		go func() { served <- telemetry.Serve(serveCtx, ln, reg, log) }()
	}

	coordOpts := []pipeline.Option{
		pipeline.WithBatchSize(file.Evaluation.BatchSize),
		pipeline.WithObserver(func(runID string) model.Observer { return collector.ForRun(runID) }),
	}
	if store != nil {
		coordOpts = append(coordOpts, pipeline.WithRecorder(store))
	}
	coord, err := pipeline.NewCoordinator(harness, log, coordOpts...)
	if err != nil {
		return err
	}
	defer coord.Shutdown()

	report, err := coord.EvaluateDirs(ctx, opts.predDir, opts.targetDir)
	if err != nil {
		return err
	}
	if err := printReport(out, report); err != nil {
		return err
	}

	if served == nil {
		return nil
	}
	log.Info("Main", "evaluation finished, serving metrics until interrupted", map[string]interface{}{
		"addr": file.Telemetry.Listen,
	})
	return <-served
}

func printReport(out io.Writer, report *pipeline.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprint(w, "pair")
	for _, k := range report.Keys {
		fmt.Fprintf(w, "\t%s", k)
	}
	fmt.Fprintln(w)

	for _, p := range report.Pairs {
		fmt.Fprint(w, p.Name)
		for _, k := range report.Keys {
			fmt.Fprintf(w, "\t%.4f", p.Values[k])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprint(w, "mean")
	for _, k := range report.Keys {
		fmt.Fprintf(w, "\t%.4f", report.Means[k])
	}
	fmt.Fprintln(w)

	if err := w.Flush(); err != nil {
		return err
	}
	if report.RunID != "" {
		fmt.Fprintf(out, "\nrun %s (%s, %d pairs, %s)\n", report.RunID, report.Backbone, len(report.Pairs), report.Duration)
	}
	return nil
}

func printRuns(out io.Writer, store *runlog.Store) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "run\tbackbone\tcreated\tmetrics")
	for _, r := range runs {
		records, err := store.Metrics(r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ID, r.Backbone, r.CreatedAt.Format("2006-01-02 15:04:05"), len(records))
	}
	return w.Flush()
}
