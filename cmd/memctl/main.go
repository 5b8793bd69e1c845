// Command memctl inspects and maintains a memory store from the shell.
//
// Configuration comes from the environment (and a .env file found by walking
// up from the working directory) unless --config names a JSON or YAML file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/logging"
	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/intelligence"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/knowledge"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/pattern"
)

// Version information (set at build time)
var version = "dev"

type app struct {
	configPath  string
	logLevel    string
	showMetrics bool

	cfg      *core.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	client   *core.Client
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "memctl",
		Short:         "Inspect and maintain the semantic memory store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "JSON or YAML config file (default: environment)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print collected metrics after the command")

	rootCmd.AddCommand(
		a.storeCmd(),
		a.retrieveCmd(),
		a.recentCmd(),
		a.statsCmd(),
		a.forgetCmd(),
		a.forgetAllCmd(),
		a.cleanupCmd(),
		a.observeCmd(),
		a.patternsCmd(),
		a.learnCmd(),
		a.similarCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		_ = a.close()
		stop()
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	var (
		cfg *core.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = core.LoadConfigFromFile(a.configPath)
	} else {
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	client, err := core.NewFromConfig(ctx, cfg,
		core.WithLogger(logger),
		core.WithMetrics(metrics.NewCollector("mtmemory", a.registry, logger)),
		// One-shot commands run cleanup explicitly.
		core.WithAutoCleanup(false),
	)
	if err != nil {
		_ = logger.Sync()
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.client = client
	return nil
}

func (a *app) close() error {
	if a.client == nil {
		return nil
	}
	if a.showMetrics {
		a.printMetrics()
	}
	err := a.client.Close()
	a.client = nil
	_ = a.logger.Sync()
	return err
}

func (a *app) learner() (*pattern.Learner, error) {
	opts := []pattern.Option{}
	if a.cfg.Patterns.Table != "" {
		opts = append(opts, pattern.WithTable(a.cfg.Patterns.Table))
	}
	if a.cfg.Patterns.DecayRate > 0 {
		opts = append(opts, pattern.WithForgettingCurve(intelligence.NewForgettingCurve(a.cfg.Patterns.DecayRate)))
	}
	return pattern.NewLearner(a.client, opts...)
}

func (a *app) knowledgeStore() (*knowledge.Store, error) {
	opts := []knowledge.Option{}
	if a.cfg.Knowledge.Table != "" {
		opts = append(opts, knowledge.WithTable(a.cfg.Knowledge.Table))
	}
	if a.cfg.Knowledge.MinConfidence > 0 {
		opts = append(opts, knowledge.WithMinConfidence(a.cfg.Knowledge.MinConfidence))
	}
	return knowledge.NewStore(a.client, opts...)
}

func (a *app) printMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("failed to gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)

			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			fmt.Fprintf(os.Stderr, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
