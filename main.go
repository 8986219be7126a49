package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/core"
	errx "github.com/rfi-assistant/server/internal/core/error"
	logx "github.com/rfi-assistant/server/pkg/logger"
	pkgredis "github.com/rfi-assistant/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the assistant, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Classifier   model.ClassifierModelConfig
	Codegen      model.CodegenModelConfig
	Synthesis    model.SynthesisModelConfig
	Fast         model.FastModelConfig
	Guardrail    model.GuardrailConfig
	Retrieval    model.RetrievalConfig
	Insight      model.InsightConfig
	Dataset      model.DatasetConfig
	Conversation model.ConversationConfig

	// Redis is loaded separately and only when REDIS_URL is set; threads are
	// kept in memory otherwise.
	Redis *pkgredis.Config `ignored:"true"`
}

var (
	metricsAddr string
	threadID    string
	showCode    bool
)

var rootCmd = &cobra.Command{
	Use:   "rfi-assistant",
	Short: "Answer questions about a project's RFI log and documents",
	Long: `rfi-assistant routes each question through a guardrail, a classifier and
one of three answer paths: generated analysis over the RFI log, record lookup
with document retrieval, or search over the project documents.`,
	SilenceUsage: true,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question in a thread",
	Long: `Ask a question in a thread. With no argument, each line read from stdin
is asked in turn within the same thread.

Examples:
  rfi-assistant ask "How many RFIs are still open?"
  rfi-assistant ask --thread tower-a "Which of those mention the slab?"
  cat questions.txt | rfi-assistant ask --thread tower-a`,
	RunE: runAsk,
}

var guardCmd = &cobra.Command{
	Use:   "guard <query>",
	Short: "Run only the input guardrail on a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGuard,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	askCmd.Flags().StringVar(&threadID, "thread", "", "thread id (a new one is generated when empty)")
	askCmd.Flags().BoolVar(&showCode, "show-code", false, "print the generated program and its output")
	rootCmd.AddCommand(askCmd, guardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment config: %w", err)
	}
	if os.Getenv("REDIS_URL") != "" {
		var rc pkgredis.Config
		if err := envconfig.Process("redis", &rc); err != nil {
			return cfg, fmt.Errorf("process redis config: %w", err)
		}
		cfg.Redis = &rc
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
	return cfg, nil
}

// serveMetrics starts the metrics endpoint when --metrics-addr is set and
// returns a function that stops it.
func serveMetrics() func() {
	if metricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logx.Info().Str("addr", metricsAddr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer serveMetrics()()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if threadID == "" {
		threadID = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "thread: %s\n", threadID)

	if len(args) > 0 {
		return ask(ctx, a, out, strings.Join(args, " "))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ask(ctx, a, out, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func ask(ctx context.Context, a *app, out io.Writer, question string) error {
	res, err := a.service.Ask(ctx, threadID, question)
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Str("kind", string(errx.KindOf(err))).Msg("Turn failed")
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintf(out, "\n> %s\n\n%s\n", question, res.FinalAnswer)
	if showCode && res.Code != "" {
		fmt.Fprintf(out, "\n--- program ---\n%s\n--- output ---\n%s\n", res.Code, res.Output)
	}
	fmt.Fprintf(out, "\n[%s] %s  $%.6f\n", res.QueryClass, res.ThreadPreview, res.CostUSD)
	return nil
}

func runGuard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer serveMetrics()()

	guard, err := newGuard(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	d := guard.Check(cmd.Context(), strings.Join(args, " "))
	verdict := "allowed"
	if !d.Allowed {
		verdict = "rejected"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s layer=%s reason=%q cached=%t elapsed=%s\n",
		verdict, d.Layer, d.Reason, d.Cached, d.Elapsed)
	return nil
}
