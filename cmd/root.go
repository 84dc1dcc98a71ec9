package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sibilla-sim/sibilla/sim/population"
	"github.com/sibilla-sim/sibilla/sim/remote"
)

var (
	// Global flags
	logLevel     string // Log verbosity level
	scenarioPath string // YAML scenario file
	outputFormat string // table or json

	// Model and run flags
	modelName   string            // Catalog model name
	modelParams map[string]string // Model parameters (name=value)
	seed        int64             // Master seed of the random streams
	deadline    float64           // Simulated time horizon of every replica
	parallelism int               // Replicas run concurrently (<=1 is sequential)

	// Time-series flags
	iterations int      // Number of replicas
	samplings  int      // Sampling grid points in [0, deadline)
	measures   []string // Measures to sample (default: all of the model)

	// Reachability flags
	epsilon float64 // Estimation error
	delta   float64 // Confidence parameter
	samples int     // Fixed sample count (overrides epsilon)
	phi     string  // Transient predicate
	psi     string  // Target predicate

	// Distribution and storage flags
	listenAddr  string        // Worker listen address
	workerName  string        // Worker name in replies
	idleTimeout time.Duration // Worker idle connection timeout
	workerAddrs []string      // Worker addresses for submit
	timeout     time.Duration // Per-request reply timeout
	dbPath      string        // SQLite results database
	submitKind  string        // Job kind for submit
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "sibilla",
	Short: "Stochastic simulation of population models",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		if outputFormat != "table" && outputFormat != "json" {
			logrus.Fatalf("Invalid output format %q (table or json)", outputFormat)
		}
	},
}

// runCmd samples time series of the model measures over many replicas
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a model and print the sampled time series",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveScenario(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		ctx, stop := signalContext()
		defer stop()

		logrus.Infof("Starting %s: %d replicas, deadline=%v, seed=%d", cfg.Model, cfg.Iterations, cfg.Deadline, cfg.Seed)
		start := time.Now()
		if err := runTimeSeries(ctx, cmd.OutOrStdout(), cfg, localExecutor(newCatalog())); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Infof("Simulation complete in %s.", time.Since(start).Round(time.Millisecond))
	},
}

// reachCmd estimates the probability of reaching psi through phi states
var reachCmd = &cobra.Command{
	Use:   "reach",
	Short: "Estimate a reachability probability",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveScenario(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		ctx, stop := signalContext()
		defer stop()

		if err := runReachability(ctx, cmd.OutOrStdout(), cfg, localExecutor(newCatalog())); err != nil {
			logrus.Fatalf("Reachability failed: %v", err)
		}
	},
}

// trajectoryCmd prints one sampled trajectory as JSON lines
var trajectoryCmd = &cobra.Command{
	Use:   "trajectory",
	Short: "Sample one trajectory and print its states as JSON lines",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveScenario(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := runTrajectory(context.Background(), cmd.OutOrStdout(), cfg, localExecutor(newCatalog())); err != nil {
			logrus.Fatalf("Trajectory failed: %v", err)
		}
	},
}

// workerCmd serves catalog simulations over TCP until interrupted
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve simulation replicas to remote clients",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		srv := remote.NewServer(newCatalog(), remote.ServerConfig{Name: workerName, IdleTimeout: idleTimeout})
		if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
			logrus.Fatalf("Worker failed: %v", err)
		}
		logrus.Info("Worker stopped.")
	},
}

// submitCmd splits a job across workers and prints the merged result
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Run a job on remote workers",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveScenario(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if len(cfg.Workers) == 0 {
			logrus.Fatalf("at least one --workers address is required")
		}
		ctx, stop := signalContext()
		defer stop()

		dispatcher, closeAll, err := dialWorkers(ctx, cfg)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		defer closeAll()

		exec := dispatchExecutor(dispatcher)
		switch remote.Kind(submitKind) {
		case remote.KindTimeSeries:
			err = runTimeSeries(ctx, cmd.OutOrStdout(), cfg, exec)
		case remote.KindReachability:
			err = runReachability(ctx, cmd.OutOrStdout(), cfg, exec)
		case remote.KindTrajectory:
			err = runTrajectory(ctx, cmd.OutOrStdout(), cfg, exec)
		default:
			logrus.Fatalf("Unknown job kind %q", submitKind)
		}
		if err != nil {
			logrus.Fatalf("Job failed: %v", err)
		}
	},
}

// modelsCmd lists the local catalog or, with --workers, the first worker's catalog
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the available models, measures and predicates",
	Run: func(cmd *cobra.Command, args []string) {
		models := newCatalog().Models()
		if len(workerAddrs) > 0 {
			client, err := remote.Dial(context.Background(), workerAddrs[0], remote.ClientConfig{Timeout: timeout})
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			defer client.Close()
			if models, err = client.Models(context.Background()); err != nil {
				logrus.Fatalf("Listing models of %s: %v", workerAddrs[0], err)
			}
		}
		if err := printModels(cmd.OutOrStdout(), models); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// runsCmd lists the runs stored in --db
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Run: func(cmd *cobra.Command, args []string) {
		if dbPath == "" {
			logrus.Fatalf("--db is required")
		}
		if err := listRuns(context.Background(), cmd.OutOrStdout(), dbPath); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// newCatalog returns the catalog of every built-in model.
func newCatalog() *remote.Catalog {
	catalog := remote.NewCatalog()
	if err := population.Register(catalog); err != nil {
		logrus.Fatalf("Registering models: %v", err)
	}
	return catalog
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "config", "", "Path to a YAML scenario file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")

	for _, c := range []*cobra.Command{runCmd, reachCmd, trajectoryCmd, submitCmd} {
		c.Flags().StringVar(&modelName, "model", population.CovidModelName, "Catalog model name")
		c.Flags().StringToStringVar(&modelParams, "param", nil, "Model parameter as name=value (repeatable)")
		c.Flags().Int64Var(&seed, "seed", 42, "Master seed of the random streams")
		c.Flags().Float64Var(&deadline, "deadline", 100, "Simulated time horizon of every replica")
		c.Flags().IntVar(&parallelism, "parallelism", 0, "Replicas run concurrently (<=1 is sequential)")
	}
	for _, c := range []*cobra.Command{runCmd, submitCmd} {
		c.Flags().IntVar(&iterations, "iterations", 100, "Number of replicas")
		c.Flags().IntVar(&samplings, "samplings", 100, "Number of sampling grid points")
		c.Flags().StringSliceVar(&measures, "measure", nil, "Measure to sample (repeatable; default all)")
	}
	for _, c := range []*cobra.Command{reachCmd, trajectoryCmd, submitCmd} {
		c.Flags().StringVar(&phi, "phi", "", "Transient predicate (default: always true)")
		c.Flags().StringVar(&psi, "psi", "", "Target predicate")
	}
	for _, c := range []*cobra.Command{reachCmd, submitCmd} {
		c.Flags().Float64Var(&epsilon, "error", 0.05, "Estimation error")
		c.Flags().Float64Var(&delta, "delta", 0.05, "Confidence parameter")
		c.Flags().IntVar(&samples, "samples", 0, "Fixed number of samples (overrides --error)")
	}
	for _, c := range []*cobra.Command{runCmd, reachCmd, submitCmd, runsCmd} {
		c.Flags().StringVar(&dbPath, "db", "", "SQLite database to store results in")
	}

	workerCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7070", "Address to listen on")
	workerCmd.Flags().StringVar(&workerName, "name", "", "Worker name (default: listen address)")
	workerCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Close connections idle for this long (0 disables)")

	for _, c := range []*cobra.Command{submitCmd, modelsCmd} {
		c.Flags().StringSliceVar(&workerAddrs, "workers", nil, "Worker addresses host:port (comma-separated)")
		c.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Reply timeout per request")
	}
	submitCmd.Flags().StringVar(&submitKind, "kind", string(remote.KindTimeSeries), "Job kind (timeseries, reachability, trajectory)")

	rootCmd.AddCommand(runCmd, reachCmd, trajectoryCmd, workerCmd, submitCmd, modelsCmd, runsCmd)
}
