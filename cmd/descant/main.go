package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
	"github.com/23skdu/longbow-descant/internal/export"
	"github.com/23skdu/longbow-descant/internal/logger"
	"github.com/23skdu/longbow-descant/internal/metrics"
	"github.com/23skdu/longbow-descant/internal/prior"
	"github.com/23skdu/longbow-descant/internal/sampler"
)

var (
	paramsTop   = flag.String("params-top", "", "Path to top prior params JSON (required)")
	weightsTop  = flag.String("weights-top", "", "Path to top prior weights (random init if empty)")
	paramsBot   = flag.String("params-bottom", "", "Path to bottom prior params JSON (top-only run if empty)")
	weightsBot  = flag.String("weights-bottom", "", "Path to bottom prior weights (random init if empty)")
	temperature = flag.Float64("temperature", 1.0, "Sampling temperature")
	batchSize   = flag.Int("batch", 1, "Number of codemaps to generate")
	seed        = flag.Int64("seed", 0, "Random seed (time-based if 0)")
	classes     = flag.String("classes", "", "Class conditioning as name=value pairs, comma separated")

	constraintPath = flag.String("constraint", "", "Arrow IPC file holding a top-level constraint codemap")
	constraintDur  = flag.Int("constraint-duration", 0, "Keep only the first N timesteps of the constraint")

	outTop      = flag.String("out-top", "top.arrow", "Output path for top-level codemaps")
	outBottom   = flag.String("out-bottom", "bottom.arrow", "Output path for bottom-level codemaps")
	publishAddr = flag.String("publish", "", "Arrow Flight address to publish codemaps to")

	metricsAddr = flag.String("metrics", ":9090", "Address to serve Prometheus metrics")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat   = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)
	log := logger.Log.Component("descant")

	if *paramsTop == "" {
		fmt.Fprintln(os.Stderr, "Error: --params-top flag is required")
		flag.Usage()
		os.Exit(1)
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("metrics serving", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("generation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger) error {
	top, err := loadPrior(*paramsTop, *weightsTop)
	if err != nil {
		return fmt.Errorf("top prior: %w", err)
	}

	var bottom *prior.Prior
	if *paramsBot != "" {
		bottom, err = loadPrior(*paramsBot, *weightsBot)
		if err != nil {
			return fmt.Errorf("bottom prior: %w", err)
		}
		if !bottom.Params.Conditional {
			return fmt.Errorf("bottom prior must be conditional")
		}
	}

	cond, err := parseClasses(*classes, *batchSize)
	if err != nil {
		return err
	}

	constraint, err := loadConstraint()
	if err != nil {
		return err
	}

	smp, err := sampler.New(sampler.Config{Temperature: *temperature, Seed: *seed})
	if err != nil {
		return err
	}

	started := time.Now()
	topGrids, err := smp.Sample(ctx, top, sampler.Options{
		BatchSize:  *batchSize,
		Constraint: constraint,
		Class:      cond,
	})
	if err != nil {
		return fmt.Errorf("top sampling: %w", err)
	}
	recordGrids(top.OutputLevel(), topGrids)
	if err := export.WriteFile(*outTop, top.OutputLevel(), topGrids); err != nil {
		return err
	}
	log.Info("top level generated", "path", *outTop, "elapsed", time.Since(started).String())

	var publishLevel config.Level = top.OutputLevel()
	publishGrids := topGrids

	if bottom != nil {
		started = time.Now()
		bottomGrids, err := smp.Sample(ctx, bottom, sampler.Options{
			BatchSize: *batchSize,
			Condition: topGrids,
			Class:     cond,
		})
		if err != nil {
			return fmt.Errorf("bottom sampling: %w", err)
		}
		recordGrids(bottom.OutputLevel(), bottomGrids)
		if err := export.WriteFile(*outBottom, bottom.OutputLevel(), bottomGrids); err != nil {
			return err
		}
		log.Info("bottom level generated", "path", *outBottom, "elapsed", time.Since(started).String())
		publishLevel = bottom.OutputLevel()
		publishGrids = bottomGrids
	}

	if *publishAddr != "" {
		pub, err := export.NewPublisher(*publishAddr)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.Publish(ctx, publishLevel, publishGrids); err != nil {
			return err
		}
	}
	return nil
}

func loadPrior(paramsPath, weightsPath string) (*prior.Prior, error) {
	if weightsPath != "" {
		return prior.LoadPrior(paramsPath, weightsPath, prior.Identity{})
	}
	p, err := config.Load(paramsPath)
	if err != nil {
		return nil, err
	}
	return prior.NewRandom(p, *seed, prior.Identity{})
}

func loadConstraint() (*codemap.Grid, error) {
	if *constraintPath == "" {
		return nil, nil
	}
	_, grids, err := export.ReadFile(*constraintPath)
	if err != nil {
		return nil, fmt.Errorf("constraint: %w", err)
	}
	constraint := grids[0]
	if *constraintDur > 0 && *constraintDur < constraint.Duration {
		constraint, err = constraint.Crop(constraint.Frequencies, *constraintDur)
		if err != nil {
			return nil, fmt.Errorf("constraint: %w", err)
		}
	}
	return constraint, nil
}

// parseClasses turns "instrument=3,pitch=60" into per-batch conditioning.
func parseClasses(s string, batch int) (prior.Conditioning, error) {
	if s == "" {
		return nil, nil
	}
	cond := prior.Conditioning{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed class pair %q (want name=value)", pair)
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", name, err)
		}
		values := make([]int, batch)
		for i := range values {
			values[i] = v
		}
		cond[name] = values
	}
	return cond, nil
}

func recordGrids(level config.Level, grids []*codemap.Grid) {
	for _, g := range grids {
		metrics.RecordCodemap(level.String(), g.Frequencies*g.Duration)
	}
}
