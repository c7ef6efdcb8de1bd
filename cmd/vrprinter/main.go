// vrprinter simulates the deposition of a G-code print and reports
// dangling (unsupported) and overlapping material.
//
// Usage:
//
//	vrprinter [options] file.gcode
//
// Options:
//
//	-config string    Simulator configuration file
//	-stats            Simulate the whole file headless and print histograms
//	-export float     With -stats, write filtered histograms as LaTeX (keep fraction 0..1)
//	-live string      Live status API address in serve mode (default ":7125")
//	-metrics string   Prometheus metrics address (default: disabled)
//	-watch            Restart the session when the G-code or config file changes
//	-dump-png string  Write the final height field as a 16-bit PNG
//	-dump-stl string  Write the final height field as an STL surface
//	-start-line int   Start simulating at this line
//	-loglevel string  DEBUG, INFO, WARN or ERROR
//	-logformat string text or json
//	-logfile string   Log file path (default: stderr)
//
// Examples:
//
//	# Print defect histograms and export them
//	vrprinter -stats -export 0.9 part.gcode
//
//	# Serve the live simulation with metrics
//	vrprinter -config sim.cfg -metrics :9100 -watch part.gcode
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vrprinter-go/pkg/config"
	"vrprinter-go/pkg/deposition"
	"vrprinter-go/pkg/heightfield"
	"vrprinter-go/pkg/live"
	"vrprinter-go/pkg/log"
	"vrprinter-go/pkg/metrics"
	"vrprinter-go/pkg/sim"
)

type options struct {
	configFile  string
	stats       bool
	export      float64
	liveAddr    string
	metricsAddr string
	watch       bool
	dumpPNG     string
	dumpSTL     string
	pngScale    float64
	stlStride   int
	startLine   int
	nozzle      float64
	filament    float64
	resolution  float64
	frameMs     int
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Simulator configuration file")
	flag.BoolVar(&opts.stats, "stats", false, "Simulate the whole file headless and print histograms")
	flag.Float64Var(&opts.export, "export", 0, "With -stats, export histograms as LaTeX keeping this fraction of runs (0 disables)")
	flag.StringVar(&opts.liveAddr, "live", ":7125", "Live status API address in serve mode")
	flag.StringVar(&opts.metricsAddr, "metrics", "", "Prometheus metrics address (empty disables)")
	flag.BoolVar(&opts.watch, "watch", false, "Restart the session when the G-code or config file changes")
	flag.StringVar(&opts.dumpPNG, "dump-png", "", "Write the final height field as a 16-bit PNG")
	flag.StringVar(&opts.dumpSTL, "dump-stl", "", "Write the final height field as an STL surface")
	flag.Float64Var(&opts.pngScale, "png-scale", 1, "Scale factor for -dump-png")
	flag.IntVar(&opts.stlStride, "stl-stride", 4, "Cells per STL vertex for -dump-stl")
	flag.IntVar(&opts.startLine, "start-line", -1, "Start simulating at this line (default: from config)")
	flag.Float64Var(&opts.nozzle, "nozzle", 0, "Nozzle diameter in mm (default: from config)")
	flag.Float64Var(&opts.filament, "filament", 0, "Filament diameter in mm (default: from config)")
	flag.Float64Var(&opts.resolution, "resolution", 0, "Height-field mm per cell (default: from config)")
	flag.IntVar(&opts.frameMs, "frame-ms", 16, "Serve mode wall time between frames")
	logLevel := flag.String("loglevel", "", "DEBUG, INFO, WARN or ERROR (default: from VRPRINTER_LOG_LEVEL)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	logFormat := flag.String("logformat", "", "text or json (default: from VRPRINTER_LOG_FORMAT)")

	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: exactly one G-code file is required\n")
		flag.Usage()
		os.Exit(1)
	}
	gcodePath := flag.Arg(0)

	logger := log.Default()
	if *logLevel != "" {
		logger.SetLevel(log.ParseLevel(*logLevel))
	}
	if *logFormat == "json" {
		logger.SetFormat(log.FormatJSON)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetWriter(f)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	text, err := os.ReadFile(gcodePath)
	if err != nil {
		logger.WithError(err).Error("cannot read gcode")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sm *metrics.SimMetrics
	if opts.metricsAddr != "" {
		sm = metrics.GlobalMetrics()
	}

	if opts.stats {
		err = runStats(ctx, opts, cfg, gcodePath, string(text), sm)
	} else {
		err = runServe(ctx, opts, cfg, gcodePath, string(text), sm)
	}
	if err != nil && err != context.Canceled {
		logger.WithError(err).Error("simulation failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts options) (*config.SimulatorConfig, error) {
	cfg := config.DefaultSimulatorConfig()
	if opts.configFile != "" {
		c, err := config.Load(opts.configFile)
		if err != nil {
			return nil, err
		}
		if cfg, err = config.ParseSimulatorConfig(c); err != nil {
			return nil, err
		}
		if err := c.CheckUnused(); err != nil {
			log.GetLogger("config").WithError(err).Warn("unused configuration")
		}
	}
	applyOverrides(cfg, opts)
	return cfg, nil
}

// applyOverrides lets command-line flags win over the config file.
func applyOverrides(cfg *config.SimulatorConfig, opts options) {
	if opts.nozzle > 0 {
		cfg.Printer.NozzleDiameter = opts.nozzle
	}
	if opts.filament > 0 {
		cfg.Printer.FilamentDiameter = opts.filament
	}
	if opts.resolution > 0 {
		cfg.Simulation.Resolution = opts.resolution
	}
	if opts.startLine >= 0 {
		cfg.Simulation.StartLine = opts.startLine
	}
	cfg.Clamp()
}

// runStats simulates the whole file and prints both histograms.
func runStats(ctx context.Context, opts options, cfg *config.SimulatorConfig, path, text string, sm *metrics.SimMetrics) error {
	logger := log.GetLogger("stats")

	if sm != nil {
		ms := metrics.NewMetricsServer(sm, opts.metricsAddr)
		errCh := ms.StartAsync()
		ms.SetReady(true)
		defer ms.Shutdown(context.Background())
		go func() {
			if err := <-errCh; err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	s := sim.New(cfg)
	s.SetMetrics(sm)
	if err := s.Start(text); err != nil {
		return err
	}

	started := time.Now()
	err := s.Run(ctx, 2000, func(st sim.Status) {
		fmt.Fprintf(os.Stderr, "\rline %d/%d (%3.0f%%)", st.Line, st.Lines, 100*st.Progress)
	})
	fmt.Fprintln(os.Stderr)
	if err == context.Canceled {
		return err
	}
	if err != nil {
		logger.WithError(err).Warn("gcode error, statistics cover the file up to it")
	}
	logger.WithFields(log.Fields{
		"elapsed":           time.Since(started).Round(time.Millisecond).String(),
		"deposition_length": s.Analyzer().Odometer(),
	}).Info("simulation complete")

	a := s.Analyzer()
	for _, h := range []*deposition.Histogram{a.Dangling(), a.Overlap()} {
		st := h.Stats()
		fmt.Printf("\n%s runs: %d, total %.1f mm, mean %.2f mm, median %.2f mm, p90 %.2f mm, max %.2f mm\n",
			h.Name(), st.Runs, st.Total, st.Mean, st.Median, st.P90, st.Max)
		if err := deposition.WriteText(os.Stdout, h.Buckets()); err != nil {
			return err
		}
	}

	if opts.export > 0 {
		base := strings.TrimSuffix(path, filepath.Ext(path))
		for _, h := range []*deposition.Histogram{a.Dangling(), a.Overlap()} {
			out := base + "_" + h.Name() + ".tex"
			if err := writeTeX(out, h, opts.export); err != nil {
				return err
			}
			logger.WithField("file", out).Info("exported histogram")
		}
	}
	return dumpField(opts, s.Field())
}

func writeTeX(path string, h *deposition.Histogram, keep float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := deposition.WriteTeX(f, h.Filter(keep), h.Name()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// runServe runs the simulation in real time behind the live API.
func runServe(ctx context.Context, opts options, cfg *config.SimulatorConfig, path, text string, sm *metrics.SimMetrics) error {
	logger := log.GetLogger("serve")

	s := sim.New(cfg)
	s.SetMetrics(sm)
	if err := s.Start(text); err != nil {
		return err
	}
	loop := sim.NewLoop(s, time.Duration(opts.frameMs)*time.Millisecond)

	var ms *metrics.MetricsServer
	if sm != nil {
		ms = metrics.NewMetricsServer(sm, opts.metricsAddr)
		errCh := ms.StartAsync()
		ms.SetReady(true)
		go func() {
			if err := <-errCh; err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	server := live.New(live.Config{Addr: opts.liveAddr, Controller: loop})
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("live API server stopped")
		}
	}()

	if opts.watch {
		go watch(ctx, opts, path, loop)
	}

	logger.WithFields(log.Fields{
		"live":    opts.liveAddr,
		"metrics": opts.metricsAddr,
		"gcode":   path,
	}).Info("serving simulation, press Ctrl+C to stop")

	err := loop.Run(ctx)

	logger.Info("shutting down")
	server.Stop()
	if ms != nil {
		ms.Shutdown(context.Background())
	}
	if dumpErr := dumpField(opts, s.Field()); dumpErr != nil {
		return dumpErr
	}
	return err
}

// watch restarts the session when the G-code or the config changes.
func watch(ctx context.Context, opts options, gcodePath string, loop *sim.Loop) {
	logger := log.GetLogger("watch")
	configFile := opts.configFile
	paths := []string{gcodePath}

	var current *config.Config
	if configFile != "" {
		paths = append(paths, configFile)
		current, _ = config.Load(configFile)
	}

	w := config.NewWatcher(paths, func(changed string) {
		if changed == configFile {
			next, err := config.Load(configFile)
			if err != nil {
				logger.WithError(err).Warn("config reload failed")
				return
			}
			if current != nil {
				logger.WithField("sections", config.DetectChanges(current, next)).Info("config changed")
			}
			cfg, err := config.ParseSimulatorConfig(next)
			if err != nil {
				logger.WithError(err).Warn("config reload failed")
				return
			}
			applyOverrides(cfg, opts)
			current = next
			if err := loop.Reconfigure(cfg); err != nil {
				logger.WithError(err).Warn("restart failed")
			}
			return
		}

		text, err := os.ReadFile(changed)
		if err != nil {
			logger.WithError(err).Warn("gcode reload failed")
			return
		}
		logger.WithField("file", changed).Info("gcode changed, restarting")
		if err := loop.Load(string(text)); err != nil {
			logger.WithError(err).Warn("restart failed")
		}
	})
	w.Run(ctx)
}

// dumpField writes the requested height-field dumps.
func dumpField(opts options, f *heightfield.Field) error {
	if f == nil {
		return nil
	}
	if opts.dumpPNG != "" {
		if err := writeFile(opts.dumpPNG, func(file *os.File) error { return f.WritePNG(file, opts.pngScale) }); err != nil {
			return err
		}
	}
	if opts.dumpSTL != "" {
		if err := writeFile(opts.dumpSTL, func(file *os.File) error { return f.WriteSTL(file, opts.stlStride) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	log.GetLogger("dump").WithField("file", path).Info("wrote height field")
	return file.Close()
}
