package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"omnidev/internal/analysis"
	"omnidev/internal/config"
	"omnidev/internal/modes"
	"omnidev/internal/orchestrator"
	"omnidev/internal/session"
	"omnidev/internal/store"
	"omnidev/internal/types"
	"omnidev/internal/voice"
)

const version = "0.3.0"

var (
	// Global flags
	verbose   bool
	workspace string
	apiKey    string
	noVoice   bool
	sessionID string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "omnidev",
	Short: "omnidev - an ambient development assistant",
	Long: `omnidev watches your workspace, continuously analyzes what you save,
and speaks up when something deserves attention.

It adapts its focus to how you are working: developer, architect, reviewer,
or tester mode, inferred from your commands and the files you touch.

Run without arguments to start the assistant in the current directory.`,
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
		return runAssistant()
	},
}

// runCmd starts the assistant loop explicitly
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the assistant and watch the workspace",
	Long: `Starts the full assistant:
  1. Watch: debounced filesystem watching of source files
  2. Analyze: structural parsing plus mode-specific checks on every save
  3. Feedback: coalesced, cooldown-gated messages, spoken when voice is on
  4. Listen: commands typed on stdin (or spoken, with a speech backend)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssistant()
	},
}

// analyzeCmd runs a one-shot analysis of the given files
var analyzeCmd = &cobra.Command{
	Use:   "analyze [file...]",
	Short: "Analyze files once and print the findings",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

// suggestCmd prints improvement suggestions for one file
var suggestCmd = &cobra.Command{
	Use:   "suggest [file]",
	Short: "Print improvement suggestions for a file",
	Long: `Runs the active mode's suggestion plugins against the file. When the
plugins produce nothing and an LLM is configured, falls back to model-generated
suggestions.`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggest,
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the omnidev version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("omnidev %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (overrides GEMINI_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&noVoice, "no-voice", false, "disable speech output")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "resume a persisted session by id")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the workspace and loads configuration with flag
// overrides applied.
func loadConfig() (*config.Config, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(ws)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if noVoice {
		cfg.Voice.Enabled = false
	}
	return cfg, nil
}

// runAssistant starts the orchestrator and blocks until interrupted. Typed
// stdin lines flow through the same command path as recognized speech.
func runAssistant() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := orchestrator.Options{
		Engine:     voice.NewConsoleEngine(os.Stdout),
		Recognizer: voice.NewScriptedRecognizer(),
	}

	if cfg.Memory.DatabasePath != "" {
		st, err := store.OpenSessionStore(cfg.Memory.DatabasePath)
		if err != nil {
			logger.Warn("session store unavailable, continuing without persistence", zap.Error(err))
		} else {
			defer st.Close()
			opts.Store = st
		}
	}

	if sessionID != "" {
		if opts.Store == nil {
			return fmt.Errorf("--session requires a session store (memory.database_path)")
		}
		prev, err := opts.Store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if prev == nil {
			return fmt.Errorf("unknown session id %s", sessionID)
		}
		opts.Session = prev
	}

	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("omnidev %s watching %s (mode: %s)\n", version, cfg.Workspace, orch.Session().CurrentMode())
	fmt.Println("Type commands (\"status\", \"review this\", \"feedback off\", ...). Ctrl-C to quit.")

	// Stdin is the typed command channel.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			handleLine(orch, os.Stdout, scanner.Text())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\nReceived %s, shutting down...\n", sig)

	cancel()
	if err := orch.Close(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}

// handleLine routes one typed line. "status" is answered locally on the
// terminal; everything else flows through the command path shared with
// recognized speech.
func handleLine(orch *orchestrator.Orchestrator, w io.Writer, raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	if line == "status" {
		printStatus(w, orch.Status())
		return
	}
	orch.SubmitCommand(line)
}

func printStatus(w io.Writer, snap types.Snapshot) {
	fmt.Fprintf(w, "session:  %s\n", snap.SessionID)
	fmt.Fprintf(w, "mode:     %s\n", snap.CurrentMode)
	fmt.Fprintf(w, "feedback: %v (cooldown %s)\n", snap.FeedbackEnabled, snap.FeedbackCooldown)
	fmt.Fprintf(w, "voice:    %v\n", snap.VoiceEnabled)
	fmt.Fprintf(w, "queue:    %d pending, %d files tracked\n", snap.QueueDepth, snap.FilesTracked)
}

// runAnalyze performs a one-shot structural plus mode-plugin analysis.
func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	analyzer := analysis.NewTreeSitterAnalyzer()
	defer analyzer.Close()

	registry := modes.NewRegistry()
	if err := modes.RegisterDefaults(registry); err != nil {
		return err
	}
	dispatcher := modes.NewDispatcher(registry, nil)

	sess := session.New(cfg.Workspace)
	ctx := cmd.Context()

	exitIssues := 0
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		result, err := analyzer.Analyze(ctx, path, content)
		if err != nil {
			return fmt.Errorf("analyze %s: %w", path, err)
		}
		issues := append(result.Issues, dispatcher.DispatchAnalyze(ctx, path, string(content), sess.Context())...)

		if len(issues) == 0 {
			fmt.Printf("%s: clean\n", path)
			continue
		}
		for _, iss := range issues {
			fmt.Printf("%s:%d: [%s] %s\n", path, iss.Line, iss.Severity, iss.Message)
		}
		exitIssues += len(issues)
	}

	if exitIssues > 0 {
		fmt.Printf("%d issue(s) found\n", exitIssues)
	}
	return nil
}

// runSuggest prints mode-plugin or LLM-backed suggestions for one file.
func runSuggest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	orch, err := orchestrator.New(ctx, cfg, orchestrator.Options{
		Engine:     voice.NullEngine{},
		Recognizer: voice.NewScriptedRecognizer(),
	})
	if err != nil {
		return err
	}
	defer orch.Close(5 * time.Second)

	suggestions := orch.Suggest(ctx, args[0], content)
	if len(suggestions) == 0 {
		fmt.Println("No suggestions.")
		return nil
	}
	for i, s := range suggestions {
		lines := fmt.Sprintf("line %d", s.LineStart)
		if s.LineEnd > s.LineStart {
			lines = fmt.Sprintf("lines %d-%d", s.LineStart, s.LineEnd)
		}
		fmt.Printf("%d. %s [%s] %s\n", i+1, lines, s.Kind, s.Description)
	}
	return nil
}
