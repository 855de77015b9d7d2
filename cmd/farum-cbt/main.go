package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/PabloGalante/farum-cbt/internal/adapters/knowledge"
	"github.com/PabloGalante/farum-cbt/internal/adapters/llm"
	"github.com/PabloGalante/farum-cbt/internal/app/conversation"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "farum-cbt",
	Short: "CBT counseling turn engine",
	Long: `farum-cbt routes each client message through crisis screening,
relevance gating, technique selection, a technique responder and response
synthesis, and returns the reply with the updated session snapshot.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FARUM_CONFIG"),
		"path to a YAML config file (env FARUM_CONFIG)")

	rootCmd.AddCommand(serveCmd, replayCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.SetLogger(observability.NewLogger(os.Stdout, cfg.Log.Level))
	return cfg, nil
}

// engine holds what both commands build: the generator, the optional
// knowledge base and the metrics registry.
type engine struct {
	llm      domain.Generator
	kb       domain.KnowledgeBase
	registry *prometheus.Registry
	metrics  *observability.TurnMetrics
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	log := observability.LoggerFromContext(ctx)

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing llm: %w", err)
	}
	log.Info("llm ready", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	kb, err := knowledge.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing knowledge base: %w", err)
	}
	log.Info("knowledge base ready", "provider", cfg.Knowledge.Provider)

	reg := prometheus.NewRegistry()
	return &engine{
		llm:      gen,
		kb:       kb,
		registry: reg,
		metrics:  observability.NewTurnMetrics(reg),
	}, nil
}

func (e *engine) service(cfg *config.Config, store domain.SessionStore) (*conversation.Service, error) {
	return conversation.NewService(cfg, e.llm, e.kb, store, e.metrics)
}
