package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"auto_doc_writer/config"
	"auto_doc_writer/engine"
	"auto_doc_writer/generator"
	"auto_doc_writer/store"
)

var rootCmd = &cobra.Command{
	Use:   "docwriter",
	Short: "Plan, write, review and polish documents with LLMs",
	Long: `docwriter drives a document from a one-line instruction to finished text.
Each step is one call: plan the sections (asking clarifying questions when the
instruction is vague), write one section at a time, review, then polish.
State between steps is kept in a local SQLite database.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOCWRITER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "path to config.yaml")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config.db_path)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")
	rootCmd.PersistentFlags().Bool("mock", false, "use the offline mock model instead of configured providers")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	for _, name := range []string{"config", "db", "verbose", "mock", "json"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd(), newCmd(), listCmd(), advanceCmd(), statusCmd(), exportCmd(), askCmd())
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file. With --mock a missing file falls back to defaults.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !viper.GetBool("mock") {
			return nil, err
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, err
		}
		cfg = config.Default()
	}
	if db := viper.GetString("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}

// buildGenerator turns the provider matrix into LLM clients behind one fallback generator.
func buildGenerator(cfg *config.Config, logger *slog.Logger) (*generator.FallbackGenerator, error) {
	opts := []generator.Option{generator.WithLogger(logger), generator.WithRequestTimeout(cfg.RequestTimeout)}
	if viper.GetBool("mock") {
		return generator.NewFallbackGenerator([]generator.Endpoint{{
			ID:     "mock",
			Client: generator.MockLLM{},
			Models: []string{"mock"},
		}}, nil, opts...)
	}

	endpoints := make([]generator.Endpoint, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		client, err := generator.NewOpenAILLMFromConfig(&generator.LLMSettings{
			Provider: p.ID,
			APIKey:   p.Key(),
			BaseURL:  p.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, generator.Endpoint{ID: p.ID, Client: client, Models: p.Models})
	}
	var secondary *generator.Secondary
	if s := cfg.Secondary; s != nil {
		client, err := generator.NewOpenAILLMFromConfig(&generator.LLMSettings{
			Provider: s.ID,
			APIKey:   s.Key(),
			BaseURL:  s.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		secondary = &generator.Secondary{ID: s.ID, Client: client, Model: s.Model}
	}
	return generator.NewFallbackGenerator(endpoints, secondary, opts...)
}

// runtime bundles what most commands need.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	gen    *generator.FallbackGenerator
	engine *engine.Engine
	store  *store.Store
}

func (rt *runtime) streamOptions() []engine.StreamOption {
	return []engine.StreamOption{
		engine.WithHeartbeat(rt.cfg.Stream.HeartbeatInterval),
		engine.WithChunking(rt.cfg.Stream.ChunkSize, rt.cfg.Stream.ChunkDelay),
	}
}

func withRuntime(ctx context.Context, fn func(context.Context, *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	gen, err := buildGenerator(cfg, logger)
	if err != nil {
		return err
	}
	eng, err := engine.New(gen,
		engine.WithLogger(logger),
		engine.WithSettings(engine.Settings{
			MaxIterations:    cfg.Engine.MaxIterations,
			SubstantialChars: cfg.Engine.SubstantialChars,
			WordsPerPage:     cfg.Engine.WordsPerPage,
			DefaultTaskWords: cfg.Engine.DefaultTaskWords,
			MaxOutputTokens:  cfg.Engine.MaxOutputTokens,
		}),
	)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer st.Close()
	return fn(ctx, &runtime{cfg: cfg, logger: logger, gen: gen, engine: eng, store: st})
}

// withStore opens only the database, for commands that never call a model.
func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	path := viper.GetString("db")
	if path == "" {
		cfgPath := viper.GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				return err
			}
			cfg = config.Default()
		}
		path = cfg.DBPath
	}
	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	defer st.Close()
	return fn(ctx, st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
