package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"discussion-agent/handler"
	"discussion-agent/internal/domain"
	"discussion-agent/internal/events"
	"discussion-agent/internal/integrations/anthropic"
	"discussion-agent/internal/integrations/bedrock"
	"discussion-agent/internal/integrations/credentials"
	"discussion-agent/internal/integrations/openai"
	"discussion-agent/internal/integrations/paramstore"
	"discussion-agent/internal/integrations/scripted"
	"discussion-agent/internal/repository"
	"discussion-agent/internal/storage/memory"
	"discussion-agent/internal/usecase"
)

// SSM parameter names, relative to PARAM_PREFIX.
const (
	openAIKeyParam    = "openai-api-key"
	anthropicKeyParam = "anthropic-api-key"
)

func main() {
	// ---- Configuration (read only here) ----
	cfg := mustLoadConfig()
	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Generation backends ----
	generators, err := buildGenerators(cfg, awsCfg)
	if err != nil {
		fatal("failed to create generators", err)
	}
	providers := make([]domain.Provider, 0, len(generators))
	for p := range generators {
		providers = append(providers, p)
	}
	logger.Info("generation providers ready", "providers", providers)

	// ---- Discussion service ----
	opts := []usecase.Option{
		usecase.WithTurnDelay(cfg.TurnDelay),
		usecase.WithLogger(logger),
	}
	if cfg.ArchiveTable != "" {
		archive, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ArchiveTable)
		if err != nil {
			fatal("failed to create archive client", err)
		}
		opts = append(opts, usecase.WithArchiver(archive))
		logger.Info("transcript archive enabled", "table", cfg.ArchiveTable)
	}

	svc, err := usecase.NewDiscussionService(memory.New(), events.NewRegistry(logger), generators, opts...)
	if err != nil {
		fatal("failed to create discussion service", err)
	}

	// ---- HTTP server ----
	h, err := handler.NewHandler(svc, logger, handler.WithKeepAlive(cfg.KeepAlive))
	if err != nil {
		fatal("failed to create handler", err)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server exited", err)
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Open event streams never end on their own, so the service goes first
	// and the server closes whatever connections remain at the deadline.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("discussion loops did not stop in time", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing open connections closed", "err", err)
		_ = srv.Close()
	}
}

func buildGenerators(cfg config, awsCfg aws.Config) (map[domain.Provider]usecase.Generator, error) {
	generators := make(map[domain.Provider]usecase.Generator)

	useSSM := cfg.ParamPrefix != ""
	openAIName, anthropicName := "OPENAI_API_KEY", "ANTHROPIC_API_KEY"
	var keys credentials.Getter
	if useSSM {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithPrefix(cfg.ParamPrefix))
		if err != nil {
			return nil, err
		}
		keys = ssmClient
		openAIName, anthropicName = openAIKeyParam, anthropicKeyParam
	} else {
		keys = credentials.NewStaticGetter(map[string]string{
			openAIName:    cfg.OpenAIKey,
			anthropicName: cfg.AnthropicKey,
		})
	}

	if useSSM || cfg.OpenAIKey != "" {
		key, err := credentials.NewAPIKey(keys, openAIName)
		if err != nil {
			return nil, err
		}
		var opts []openai.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		client, err := openai.NewClient(key, opts...)
		if err != nil {
			return nil, err
		}
		generators[domain.ProviderOpenAI] = client
	}

	if useSSM || cfg.AnthropicKey != "" {
		key, err := credentials.NewAPIKey(keys, anthropicName)
		if err != nil {
			return nil, err
		}
		var opts []anthropic.Option
		if cfg.AnthropicBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.AnthropicBaseURL))
		}
		client, err := anthropic.NewClient(key, opts...)
		if err != nil {
			return nil, err
		}
		generators[domain.ProviderAnthropic] = client
	}

	bedrockClient, err := bedrock.New(awsbedrock.NewFromConfig(awsCfg, func(o *awsbedrock.Options) {
		o.Region = cfg.BedrockRegion
	}))
	if err != nil {
		return nil, err
	}
	generators[domain.ProviderBedrock] = bedrockClient

	if cfg.ScriptedProvider {
		generators[domain.ProviderScripted] = scripted.New()
	}
	return generators, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
