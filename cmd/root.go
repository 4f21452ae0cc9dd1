package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/utils/ptr"

	"github.com/inference-sim/elastic-sim/sim/cluster"
	"github.com/inference-sim/elastic-sim/sim/trace"
)

var (
	configPath string  // Deployment config YAML; empty = built-in defaults
	logLevel   string  // Log verbosity level
	seed       int64   // Overrides the config seed when set
	outputDir  string  // Overrides metrics.output_dir when set
	traceLevel string  // Overrides trace_level when set
	timeLimit  float64 // Overrides time_limit when set (seconds)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "elastic-sim",
	Short: "Discrete-event simulator for elastic inference-serving clusters",
}

// runCmd executes the simulation described by the deployment config
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cluster simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := runSimulation(cfg, os.Stdout); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// loadConfig reads the deployment config and applies the flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (cluster.DeploymentConfig, error) {
	cfg := cluster.DefaultDeploymentConfig()
	if configPath != "" {
		var err error
		if cfg, err = cluster.LoadDeploymentConfig(configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("output-dir") {
		cfg.Metrics.OutputDir = outputDir
	}
	if flags.Changed("trace-level") {
		if !trace.IsValidTraceLevel(traceLevel) {
			return cfg, fmt.Errorf("unknown trace level %q; valid options: %s, %s", traceLevel, trace.TraceLevelNone, trace.TraceLevelDecisions)
		}
		cfg.TraceLevel = trace.TraceLevel(traceLevel)
	}
	if flags.Changed("time-limit") {
		cfg.TimeLimit = ptr.To(timeLimit)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid deployment config: %w", err)
	}
	return cfg, nil
}

// runSimulation generates the workload, runs it and prints the summaries to w.
func runSimulation(cfg cluster.DeploymentConfig, w io.Writer) error {
	reqs, err := cluster.GenerateRequests(cfg)
	if err != nil {
		return err
	}
	logrus.Infof("Starting simulation with %d requests on %d replicas (policy=%s, autoscaler=%t, seed=%d)",
		len(reqs), cfg.Cluster.NumReplicas, cfg.Scheduler.Policy, cfg.Autoscaler.Enabled, cfg.Seed)

	cs, err := cluster.NewClusterSimulator(cfg, reqs)
	if err != nil {
		return err
	}
	startTime := time.Now()
	if err := cs.Run(); err != nil {
		return err
	}
	logrus.Infof("Simulated %.3fs in %s", cs.Clock(), time.Since(startTime))

	cs.Metrics().Summarize(cs.Clock()).Print(w)
	if st := cs.Trace(); st != nil {
		trace.Summarize(st).Print(w)
	}
	if dir := cfg.Metrics.OutputDir; dir != "" {
		fmt.Fprintf(w, "Results written to %s\n", dir)
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the deployment config YAML (defaults when empty)")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for workload generation (overrides the config)")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for result files (overrides metrics.output_dir)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level: none, decisions (overrides trace_level)")
	runCmd.Flags().Float64Var(&timeLimit, "time-limit", 0, "Stop after this many simulated seconds (overrides time_limit)")

	reportCmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory holding the result files of a run")
	_ = reportCmd.MarkFlagRequired("output-dir")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(defaultsCmd)
}
