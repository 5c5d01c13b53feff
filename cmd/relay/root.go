package main

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
)

type globalFlags struct {
	configPath string
	logLevel   string
	provider   string
	store      string
	metrics    bool
	// responder, when set, replaces the configured backend.
	responder core.Responder
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Run tasks and conversations through an agentrelay orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "configuration file (yaml or json)")
	pf.StringVar(&g.logLevel, "log-level", "", "override logging.level")
	pf.StringVar(&g.provider, "provider", "", "override responder.provider (mock, openai, anthropic, ollama)")
	pf.StringVar(&g.store, "store", "", "override store.driver (memory, sqlite)")
	pf.BoolVar(&g.metrics, "metrics", false, "print Prometheus metrics on exit")

	cmd.AddCommand(newRunCmd(g), newTaskCmd(g), newChatCmd(g), newConfigCmd(g))
	return cmd
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.provider != "" {
		cfg.Responder.Provider = g.provider
	}
	if g.store != "" {
		cfg.Store.Driver = g.store
	}
	return cfg, cfg.Validate()
}

// open builds the relay and returns a shutdown func that closes it and,
// when requested, dumps the metrics to w.
func (g *globalFlags) open(cmd *cobra.Command, w io.Writer) (*agentrelay.Relay, func() error, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	relay, err := agentrelay.New(cfg, func(o *agentrelay.Options) {
		o.Registerer = reg
		o.Responder = g.responder
	})
	if err != nil {
		return nil, nil, err
	}
	janitorCtx, stopJanitor := context.WithCancel(cmd.Context())
	relay.StartJanitor(janitorCtx)

	shutdown := func() error {
		stopJanitor()
		if err := relay.Close(); err != nil {
			return err
		}
		if g.metrics {
			return writeMetrics(w, reg)
		}
		return nil
	}
	return relay, shutdown, nil
}

func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
