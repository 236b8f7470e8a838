package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ownership/guest"
	"github.com/wippyai/ownership/internal/stress"
	"github.com/wippyai/ownership/ref"
	"github.com/wippyai/ownership/resource"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to TOML config file")
		rounds      = flag.Int("rounds", 0, "Number of rounds (overrides config)")
		lockers     = flag.Int("lockers", 0, "Promoting goroutines per round (overrides config)")
		holders     = flag.Int("holders", 0, "Owners dropped per round (overrides config)")
		timeout     = flag.Duration("timeout", 0, "Overall time limit (overrides config)")
		verbose     = flag.Bool("v", false, "Verbose logging to stderr")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *rounds > 0 {
		cfg.Rounds = *rounds
	}
	if *lockers > 0 {
		cfg.Lockers = *lockers
	}
	if *holders > 0 {
		cfg.Holders = *holders
	}
	if *timeout > 0 {
		cfg.Timeout.Duration = *timeout
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	ref.SetLogger(logger.Named("ref"))
	resource.SetLogger(logger.Named("resource"))
	guest.SetLogger(logger.Named("guest"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *interactive {
		err = runInteractive(ctx, cfg, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (stress.Config, error) {
	if path == "" {
		return stress.DefaultConfig(), nil
	}
	return stress.LoadConfig(path)
}

func newLogger(cfg stress.Config, verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg stress.Config, logger *zap.Logger) error {
	fmt.Printf("Rounds: %d  Lockers: %d  Holders: %d  Observers: %d\n",
		cfg.Rounds, cfg.Lockers, cfg.Holders, cfg.Observers)

	step := cfg.Rounds / 10
	if step == 0 {
		step = 1
	}
	rep, err := stress.Run(ctx, cfg, logger, func(p stress.Progress) {
		if p.Round%step == 0 || p.Round == p.Rounds {
			fmt.Printf("  round %d/%d  promotions=%d failed=%d\n",
				p.Round, p.Rounds, p.Promotions, p.FailedPromotions)
		}
	})

	printReport(rep)
	if stderrors.Is(err, context.Canceled) {
		fmt.Println("Interrupted.")
		return nil
	}
	return err
}

func printReport(rep stress.Report) {
	fmt.Printf("\nRounds:            %d\n", rep.Rounds)
	fmt.Printf("Promotions:        %d\n", rep.Promotions)
	fmt.Printf("Failed promotions: %d\n", rep.FailedPromotions)
	fmt.Printf("Violations:        %d\n", rep.Violations)
	if rep.Leaked != (ref.Stats{}) {
		fmt.Printf("Leaked:            %d blocks, %d payloads\n", rep.Leaked.Blocks, rep.Leaked.Payloads)
	}
	fmt.Printf("Elapsed:           %s\n", rep.Elapsed.Round(time.Millisecond))
}
