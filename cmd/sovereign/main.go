package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sovereign/internal/affect"
	"sovereign/internal/config"
	"sovereign/internal/dispatch"
	"sovereign/internal/embedding"
	"sovereign/internal/intent"
	"sovereign/internal/logging"
	"sovereign/internal/memory"
	"sovereign/internal/node"
	"sovereign/internal/reflection"
	"sovereign/internal/telemetry"
)

const version = "0.3.0"

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sovereign",
	Short: "Sovereign - dual-node companion orchestrator",
	Long: `Sovereign coordinates two inference endpoints through one orchestrator:
a low-latency interactive node for conversation and a heavyweight reasoning
node for multi-step tool-using tasks.

The orchestrator owns intent routing, task dispatch, interrupt control,
layered memory, and a decaying affective state that colors every injected
prompt.

Run without arguments to start the orchestrator loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrchestrator()
	},
}

// factsCmd groups fact-sheet administration
var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Administer the long-lived fact sheet",
	Long: `Facts are the semantic memory tier: user identity, hardware limits,
persona parameters. They are only ever written here, never inferred from
model output.`,
}

var factsSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Set or overwrite a fact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SetFact(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to set fact: %w", err)
		}
		fmt.Printf("Fact %q set.\n", args[0])
		return nil
	},
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		snapshot, err := store.FactSnapshot()
		if err != nil {
			return fmt.Errorf("failed to read facts: %w", err)
		}
		if len(snapshot) == 0 {
			fmt.Println("No facts recorded.")
			return nil
		}
		for _, f := range memory.SortedFacts(snapshot) {
			fmt.Printf("%s = %s\n", f.Name, f.Value)
		}
		return nil
	},
}

var factsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.DeleteFact(args[0]); err != nil {
			return fmt.Errorf("failed to delete fact: %w", err)
		}
		fmt.Printf("Fact %q deleted.\n", args[0])
		return nil
	},
}

// memoryCmd groups episodic-store administration
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Administer the episodic store",
}

var memoryWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all episodic records",
	Long: `Wipes the episodic tier. This is the only deletion path; normal turn
processing never removes records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		count, _ := store.EpisodeCount()
		if err := store.Wipe(); err != nil {
			return fmt.Errorf("failed to wipe episodic store: %w", err)
		}
		fmt.Printf("Wiped %d episodic records.\n", count)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sovereign %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sovereign.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	factsCmd.AddCommand(factsSetCmd, factsListCmd, factsDeleteCmd)
	rootCmd.AddCommand(factsCmd, memoryCmd, versionCmd)
	memoryCmd.AddCommand(memoryWipeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore() (*memory.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := memory.NewStore(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return store, nil
}

// runOrchestrator wires every component and runs the turn loop until a
// shutdown signal. Stdin is the text front door; in deployment the
// interactive node's audio layer feeds the same entry point.
func runOrchestrator() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logging.Initialize(cfg.DataDir, cfg.Logging.Debug, cfg.Logging.Level); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()
	logging.Boot("sovereign %s starting", version)

	store, err := memory.NewStore(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		logger.Warn("Embedding engine unavailable, recall degrades to keyword match", zap.Error(err))
	} else if embedder != nil {
		store.SetEmbeddingEngine(embedder)
	}

	writer := memory.NewEpisodicWriter(store, cfg.Memory.WriteRetries,
		config.ParseDuration(cfg.Memory.WriteBackoff, 250*time.Millisecond))
	defer writer.Close()

	persona := memory.LoadPersona(cfg.Memory.PersonaPath)
	if err := persona.Watch(); err != nil {
		logger.Warn("Persona watcher unavailable, edits need a restart", zap.Error(err))
	}
	defer persona.Close()

	engine := affect.New(affect.Config{
		DecayFactor:        cfg.Affect.DecayFactor,
		Cap:                cfg.Affect.Cap,
		RenderTopN:         cfg.Affect.RenderTopN,
		RenderMinIntensity: cfg.Affect.RenderMinIntensity,
		StatePath:          cfg.Affect.StatePath,
	})
	if err := engine.LoadState(); err != nil {
		logger.Warn("Affect state not restored", zap.Error(err))
	}

	daemon := reflection.NewDaemon(reflection.Config{
		IdleThreshold: config.ParseDuration(cfg.Reflection.IdleThreshold, 5*time.Minute),
		ThoughtsPath:  cfg.Reflection.ThoughtsPath,
		RecallTopK:    cfg.Memory.RecallTopK,
	}, engine, store)

	interactive := node.NewInteractiveClient(node.InteractiveConfig{
		BaseURL:          cfg.Nodes.Interactive.BaseURL,
		Timeout:          config.ParseDuration(cfg.Nodes.Interactive.Timeout, 10*time.Second),
		ReconnectBackoff: config.ParseDuration(cfg.Nodes.Interactive.ReconnectBackoff, 2*time.Second),
	})
	reasoning := node.NewReasoningClient(node.ReasoningConfig{
		BaseURL: cfg.Nodes.Reasoning.BaseURL,
		Timeout: config.ParseDuration(cfg.Nodes.Reasoning.Timeout, 180*time.Second),
	})

	var collector telemetry.Collector
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
		collector = telemetry.NewHTTPCollector(cfg.Telemetry.Endpoint)
	}

	dcfg := dispatch.DefaultConfig()
	dcfg.TaskTimeout = config.ParseDuration(cfg.Dispatch.TaskTimeout, 120*time.Second)
	dcfg.IdleTimeout = config.ParseDuration(cfg.Dispatch.IdleTimeout, 30*time.Minute)
	dcfg.InterruptConfidence = cfg.Dispatch.InterruptConfidence
	dcfg.RecallTopK = cfg.Memory.RecallTopK
	dcfg.WindowTurns = cfg.Memory.WindowTurns
	dcfg.WindowTokenBudget = cfg.Memory.WindowTokenBudget
	dcfg.ReflectionSpec = cfg.Reflection.TickSpec
	dcfg.FactReinjectSpec = cfg.Reflection.FactReinjectSpec
	if cfg.Telemetry.Interval != "" {
		dcfg.TelemetrySpec = "@every " + cfg.Telemetry.Interval
	}

	d := dispatch.New(dcfg, dispatch.Deps{
		Affect:      engine,
		Store:       store,
		Writer:      writer,
		Persona:     persona,
		Classifier:  intent.New(cfg.Intent.ChatThreshold),
		Interactive: interactive,
		Reasoning:   reasoning,
		Collector:   collector,
		Thresholds: telemetry.Thresholds{
			GPUTempHotC:    cfg.Telemetry.GPUTempHotC,
			CPULoadHighPct: cfg.Telemetry.CPULoadHighPct,
			RAMLowMB:       cfg.Telemetry.RAMLowMB,
		},
		Reflection: daemon,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			d.Submit(line)
		}
	}()

	logger.Info("Orchestrator running",
		zap.String("interactive", cfg.Nodes.Interactive.BaseURL),
		zap.String("reasoning", cfg.Nodes.Reasoning.BaseURL))

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("orchestrator stopped: %w", err)
	}
	return nil
}
