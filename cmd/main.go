package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"line-chat-agent/handler"
	"line-chat-agent/internal/integrations/anthropic"
	"line-chat-agent/internal/integrations/line"
	"line-chat-agent/internal/integrations/openai"
	"line-chat-agent/internal/integrations/paramstore"
	"line-chat-agent/internal/integrations/weather"
	"line-chat-agent/internal/repository"
	"line-chat-agent/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	paramPrefix := os.Getenv("PARAM_PREFIX")
	storeBackend := envString("STORE_BACKEND", "dynamodb")
	provider := envString("COMPLETION_PROVIDER", "openai")
	maxHistoryRecords := envInt("MAX_HISTORY_RECORDS", 20)
	completionTimeout := envDuration("COMPLETION_TIMEOUT", 20*time.Second)
	port := envString("PORT", "5000")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Secrets ----
	var ssmClient *paramstore.Client
	if paramPrefix != "" {
		ssmClient, err = paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
	}
	channelSecret := mustSecret(ctx, ssmClient, "LINE_CHANNEL_SECRET", paramPrefix, paramstore.ChannelSecretParam)
	channelToken := mustSecret(ctx, ssmClient, "LINE_CHANNEL_ACCESS_TOKEN", paramPrefix, paramstore.ChannelAccessTokenParam)

	// ---- Clients ----
	store, closeStore := mustStore(cfg, storeBackend)
	defer closeStore()

	llmHTTP := &http.Client{Timeout: completionTimeout + 5*time.Second}
	var completer usecase.Completer
	var model string
	switch provider {
	case "openai":
		model = envString("COMPLETION_MODEL", "gpt-3.5-turbo")
		var getter openai.Getter
		if ssmClient != nil {
			getter = ssmClient
		}
		completer, err = openai.NewClient(getter, paramPrefix,
			openai.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
			openai.WithHTTPClient(llmHTTP),
		)
	case "anthropic":
		model = envString("COMPLETION_MODEL", "claude-3-5-haiku-latest")
		completer, err = anthropic.NewClient(mustEnv("ANTHROPIC_API_KEY"), anthropic.WithHTTPClient(llmHTTP))
	default:
		err = errors.New("unknown completion provider " + strconv.Quote(provider))
	}
	if err != nil {
		slog.Error("failed to create completion client", "provider", provider, "err", err)
		os.Exit(1)
	}

	var opts []usecase.ServiceOption
	if weatherKey := optionalSecret(ctx, ssmClient, "WEATHER_API_KEY", paramPrefix, paramstore.WeatherAPIKeyParam); weatherKey != "" {
		weatherClient, err := weather.NewClient(weatherKey)
		if err != nil {
			slog.Error("failed to create weather client", "err", err)
			os.Exit(1)
		}
		opts = append(opts, usecase.WithWeather(weatherClient))
	}

	replier, err := line.NewReplierFromToken(channelToken)
	if err != nil {
		slog.Error("failed to create LINE replier", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(completer, store, model, maxHistoryRecords, completionTimeout, opts...)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, replier, channelSecret)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(h.Handle)
		return
	}
	serve(h, port)
}

func serve(h *handler.Handler, port string) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "err", err)
		}
	}
}

func mustStore(cfg aws.Config, backend string) (usecase.HistoryStore, func()) {
	switch backend {
	case "dynamodb":
		stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), mustEnv("STATE_TABLE"))
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
		return stateClient, func() {}
	case "sqlite":
		sqliteStore, err := repository.NewSQLiteStore(envString("SQLITE_PATH", "chat-history.db"))
		if err != nil {
			slog.Error("failed to open sqlite store", "err", err)
			os.Exit(1)
		}
		return sqliteStore, func() {
			if err := sqliteStore.Close(); err != nil {
				slog.Error("failed to close sqlite store", "err", err)
			}
		}
	}
	slog.Error("unknown store backend", "backend", backend)
	os.Exit(1)
	return nil, nil
}

// mustSecret reads key from the environment, falling back to the parameter
// store when a prefix is configured.
func mustSecret(ctx context.Context, getter *paramstore.Client, key, prefix, param string) string {
	v, err := resolveSecret(ctx, getter, key, prefix, param)
	if err != nil {
		slog.Error("required secret is not available", "key", key, "err", err)
		os.Exit(1)
	}
	return v
}

func optionalSecret(ctx context.Context, getter *paramstore.Client, key, prefix, param string) string {
	if os.Getenv(key) == "" && prefix == "" {
		return ""
	}
	v, err := resolveSecret(ctx, getter, key, prefix, param)
	if err != nil {
		slog.Warn("optional secret is not available", "key", key, "err", err)
		return ""
	}
	return v
}

func resolveSecret(ctx context.Context, getter *paramstore.Client, key, prefix, param string) (string, error) {
	var g paramstore.Getter
	if getter != nil {
		g = getter
	}
	return paramstore.Resolve(ctx, g, os.Getenv(key), prefix, param)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
