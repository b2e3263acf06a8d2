package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"converse/internal/agent"
	"converse/internal/config"
	"converse/internal/embedding"
	"converse/internal/knowledge"
	"converse/internal/llm"
	"converse/internal/logging"
	"converse/internal/retrieval"
	"converse/internal/store"
)

var (
	// Global flags
	configPath string
	debug      bool
	userID     string
)

var rootCmd = &cobra.Command{
	Use:   "converse",
	Short: "converse - knowledge-grounded conversation agent",
	Long: `converse routes each user message through a deterministic pipeline:
thread-continuity detection, category classification, requirement
validation, handler or default routing, confidence scoring, and
escalation. A knowledge engine feeds the default response path with
retrieved snippets from files, directories, and URLs.

Run without arguments to start an interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Logging.Debug = true
		}
		if err := logging.Initialize(cfg.Logging.Debug); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		loadedConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var loadedConfig *config.Config

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a single message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		reply, err := rt.processor.Process(cmd.Context(), userID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply.Content)
		return nil
	},
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge index",
}

var knowledgeLoadCmd = &cobra.Command{
	Use:   "load [sources...]",
	Short: "Load and index knowledge sources",
	Long: `Loads the given sources (file paths, directories, or URLs), plus any
sources listed in the config file, chunking and indexing whatever
changed since the last pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		sources := append(loadedConfig.Knowledge.Sources, args...)
		if len(sources) == 0 {
			return fmt.Errorf("no sources given and none configured")
		}
		stats := rt.manager.LoadSources(cmd.Context(), sources)
		fmt.Printf("loaded %d, skipped %d unchanged, failed %d (of %d)\n",
			stats.Loaded, stats.SkippedUnchanged, stats.Failed, stats.Total)
		for _, e := range stats.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		return nil
	},
}

var knowledgeQueryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Query the knowledge index directly",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		fmt.Println(rt.manager.RetrieveForQuery(cmd.Context(), strings.Join(args, " ")))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "converse.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "User identifier for conversation state")

	knowledgeCmd.AddCommand(knowledgeLoadCmd)
	knowledgeCmd.AddCommand(knowledgeQueryCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

// runtime holds the assembled application graph.
type runtime struct {
	processor *agent.Processor
	manager   *knowledge.Manager
	local     *store.LocalStore // nil when running in-memory
}

func (r *runtime) close() {
	if r.local != nil {
		_ = r.local.Close()
	}
}

// buildRuntime wires config into the store, LLM client, embedding
// engine, knowledge manager, and processor.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg := loadedConfig

	llmTimeout, err := cfg.LLMTimeout()
	if err != nil {
		return nil, err
	}
	client, err := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: llmTimeout,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{}
	var stateStore agent.StateStore
	var hashes knowledge.HashPersistence
	var index retrieval.VectorIndex
	if cfg.Storage.DatabasePath != "" {
		local, err := store.NewLocalStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, err
		}
		rt.local = local
		stateStore = local
		hashes = local
		index = local
	} else {
		stateStore = store.NewMemoryStateStore()
		hashes = knowledge.NewMemoryHashPersistence()
		index = store.NewMemoryVectorIndex()
	}

	var engine embedding.Engine
	if cfg.Embedding.Provider != "" {
		engine, err = embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
		})
		if err != nil {
			logging.Knowledge("embedding engine unavailable: %v", err)
			engine = nil
		}
	}

	urlTimeout, err := cfg.URLTimeout()
	if err != nil {
		return nil, err
	}
	chunker, err := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	manager, err := knowledge.NewManager(ctx, knowledge.ManagerConfig{
		Loader:     knowledge.NewLoader(cfg.Knowledge.MaxFileBytes, cfg.Knowledge.MaxDirFiles, urlTimeout),
		Chunker:    chunker,
		Hashes:     hashes,
		Engine:     engine,
		Index:      index,
		MaxResults: cfg.Knowledge.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	rt.manager = manager

	processor, err := agent.NewProcessor(agent.Options{
		Config:    cfg.Agent,
		LLM:       client,
		Store:     stateStore,
		Knowledge: manager,
	})
	if err != nil {
		return nil, err
	}
	rt.processor = processor
	return rt, nil
}

// runChat runs the interactive loop until EOF or interrupt.
func runChat(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if sources := loadedConfig.Knowledge.Sources; len(sources) > 0 {
		stats := rt.manager.LoadSources(ctx, sources)
		fmt.Printf("knowledge: %d loaded, %d unchanged, %d failed\n",
			stats.Loaded, stats.SkippedUnchanged, stats.Failed)
		if loadedConfig.Knowledge.Watch {
			watcher := knowledge.NewWatcher(rt.manager, sources)
			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					logging.Knowledge("watcher stopped: %v", err)
				}
			}()
		}
	}

	fmt.Printf("%s ready. Type a message, or Ctrl-D to quit.\n", loadedConfig.Agent.Name)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		reply, err := rt.processor.Process(ctx, userID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply.Content)
	}
	return scanner.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
