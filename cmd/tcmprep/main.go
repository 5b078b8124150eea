package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liangwu/tcmprep/internal/chat"
	"github.com/liangwu/tcmprep/internal/exam"
	"github.com/liangwu/tcmprep/internal/fallback"
	"github.com/liangwu/tcmprep/internal/handler"
	appI18n "github.com/liangwu/tcmprep/internal/i18n"
	"github.com/liangwu/tcmprep/internal/provider"
	"github.com/liangwu/tcmprep/internal/session"
	"github.com/liangwu/tcmprep/internal/transcript"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tcmprep",
		Short: "TCM certification exam-prep assistant service",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "tcmprep.db", "SQLite database path for saved transcripts")
	f.String("llm-url", "https://api.deepseek.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the completion provider")
	f.String("llm-model", "deepseek-chat", "Completion model name")
	f.Duration("llm-timeout", 30*time.Second, "Per-call timeout for provider requests")
	f.StringP("lang", "l", "zh", "Default message language (zh, en)")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved transcripts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "tcmprep.db", "SQLite database path for saved transcripts")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TCMPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tcmprep")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tcmprep")
	v.AddConfigPath("/etc/tcmprep")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// The fallback bank is the safety net for every degraded path, so a
	// broken bank must stop startup.
	bank, err := fallback.Load()
	if err != nil {
		return fmt.Errorf("load fallback bank: %w", err)
	}

	store, err := transcript.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llm := provider.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetDuration("llm-timeout"),
	)
	// The provider being down is an expected operating mode, not a
	// startup failure: the bank covers for it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := llm.Ping(ctx); err != nil {
		slog.Warn("provider unreachable at startup, serving in degraded mode", "error", err)
	} else {
		slog.Info("provider endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}
	cancel()

	generator := exam.NewGenerator(llm, bank)
	evaluator := exam.NewEvaluator(llm, bank)
	assistant := chat.New(llm, bank)
	sessions := session.NewManager(generator, evaluator, assistant)

	h := handler.New(sessions, store)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type"},
	}))
	r.Use(appI18n.Middleware(v.GetString("lang")))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", v.GetString("lang"),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	store, err := transcript.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	transcripts, err := store.List()
	if err != nil {
		return fmt.Errorf("list transcripts: %w", err)
	}

	data, err := json.MarshalIndent(transcripts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}
