package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nugget/gitbot/internal/api"
	"github.com/nugget/gitbot/internal/assistant"
	"github.com/nugget/gitbot/internal/chat"
	"github.com/nugget/gitbot/internal/config"
	"github.com/nugget/gitbot/internal/connwatch"
	"github.com/nugget/gitbot/internal/conversation"
	"github.com/nugget/gitbot/internal/events"
	"github.com/nugget/gitbot/internal/forge"
	"github.com/nugget/gitbot/internal/httpkit"
	"github.com/nugget/gitbot/internal/mqtt"
	"github.com/nugget/gitbot/internal/params"
	"github.com/nugget/gitbot/internal/registry"
	"github.com/nugget/gitbot/internal/socket"
	"github.com/nugget/gitbot/internal/tools"
)

// purgeInterval is how often serve deletes expired thread bindings.
const purgeInterval = time.Hour

// apologyTimeout bounds the apology posted when handle cannot start.
const apologyTimeout = 10 * time.Second

// app holds the wired components shared by serve and handle.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	bus          *events.Bus
	chat         *chat.Client
	backend      *assistant.Client
	forge        *forge.GitHub
	state        *params.State
	store        registry.Store
	orchestrator *conversation.Orchestrator
}

// newApp resolves credentials once and wires every component. Persona
// parameters stay behind the params chain and are read on every turn.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	state, err := params.OpenState(cfg.DataPath(cfg.Parameters.StatePath))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, bus: events.New(), state: state}

	src := paramSources(cfg, state, logger)

	botToken, err := params.Require(ctx, src, params.SlackBotToken)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("slack bot token: %w", err)
	}
	openaiKey, err := params.Require(ctx, src, params.OpenAIAPIKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("openai api key: %w", err)
	}

	a.chat = newChat(cfg, botToken, logger)

	a.backend = assistant.NewClient(openaiKey, cfg.OpenAI.BaseURL,
		httpkit.NewClient(httpkit.WithTimeout(cfg.OpenAI.Timeout), httpkit.WithLogger(logger)),
		logger.With("component", "openai"))

	if a.forge, err = newForge(ctx, cfg, src, logger.With("component", "github")); err != nil {
		a.Close()
		return nil, err
	}

	catalog := tools.NewRegistry(logger.With("component", "tools"))
	tools.RegisterForgeTools(catalog, forge.NewTools(a.forge, logger.With("component", "github")))

	resolver := assistant.NewResolver(assistant.ResolverConfig{
		Backend:         a.backend,
		Params:          src,
		Writer:          state,
		Functions:       functionSpecs(catalog),
		CodeInterpreter: cfg.Assistant.CodeInterpreter,
		Policy:          assistant.FallbackPolicy(cfg.Assistant.FallbackPolicy),
		Logger:          logger.With("component", "persona"),
	})

	if a.store, err = openRegistry(cfg); err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator = conversation.New(conversation.Config{
		Chat:                a.chat,
		Backend:             a.backend,
		Tools:               catalog,
		Personas:            resolver,
		Registry:            a.store,
		Bus:                 a.bus,
		Logger:              logger.With("component", "conversation"),
		TTL:                 cfg.Registry.TTL,
		PollInterval:        cfg.Conversation.PollInterval,
		ThreadReplyLimit:    cfg.Conversation.ThreadReplyLimit,
		ChannelHistoryLimit: cfg.Conversation.ChannelHistoryLimit,
		MaxConcurrency:      cfg.Tools.MaxConcurrency,
		Apology:             cfg.Conversation.Apology,
	})
	return a, nil
}

// Close releases the stores. It is safe on a partly built app.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing registry", "error", err)
		}
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("closing state", "error", err)
		}
	}
}

func newChat(cfg *config.Config, botToken string, logger *slog.Logger) *chat.Client {
	return chat.New(botToken, chat.Options{
		APIURL:     cfg.Slack.APIURL,
		HTTPClient: httpkit.NewClient(httpkit.WithRetry(2, 500*time.Millisecond), httpkit.WithLogger(logger)),
		AppToken:   cfg.Slack.AppToken,
	}, logger.With("component", "slack"))
}

// apologizeForSetup answers ev with the apology when the app could not
// be built. Only the Slack bot token is needed; if that is missing too
// the failure stays in the log.
func apologizeForSetup(ctx context.Context, cfg *config.Config, ev conversation.Event, logger *slog.Logger) {
	state, err := params.OpenState(cfg.DataPath(cfg.Parameters.StatePath))
	if err != nil {
		logger.Warn("cannot post apology", "error", err)
		return
	}
	defer state.Close()

	botToken, err := params.Require(ctx, paramSources(cfg, state, logger), params.SlackBotToken)
	if err != nil {
		logger.Warn("cannot post apology without a slack bot token", "error", err)
		return
	}

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()
	_, err = newChat(cfg, botToken, logger).PostMessage(postCtx, chat.Post{
		Channel:   ev.Channel,
		ThreadTS:  ev.Key(),
		Text:      cfg.Conversation.Apology,
		Segments:  []string{cfg.Conversation.Apology},
		Broadcast: ev.ThreadBroadcast,
	})
	if err != nil {
		logger.Error("failed to post apology", "error", err)
	}
}

// paramSources builds the lookup chain: values gitbot wrote itself win,
// then the parameter extension, then the config file.
func paramSources(cfg *config.Config, state *params.State, logger *slog.Logger) params.Chain {
	static := params.Static{}
	for k, v := range cfg.Parameters.Values {
		static[k] = v
	}
	defaults := map[string]string{
		params.AssistantName:        cfg.Assistant.Name,
		params.AssistantInstruction: cfg.Assistant.Instructions,
		params.AssistantModel:       cfg.Assistant.Model,
	}
	for k, v := range defaults {
		if static[k] == "" && v != "" {
			static[k] = v
		}
	}

	chain := params.Chain{state}
	if ext := cfg.Parameters.Extension; ext.URL != "" {
		chain = append(chain, params.NewExtension(params.ExtensionOptions{
			BaseURL:     ext.URL,
			Prefix:      cfg.Parameters.Prefix,
			Token:       ext.Token,
			TokenHeader: ext.TokenHeader,
		}, nil, logger.With("component", "params")))
	}
	return append(chain, static)
}

// newForge builds the GitHub provider for the configured auth mode.
func newForge(ctx context.Context, cfg *config.Config, src params.Source, logger *slog.Logger) (*forge.GitHub, error) {
	httpClient := httpkit.NewClient(httpkit.WithLogger(logger))

	if cfg.GitHub.Auth == "token" {
		token, err := params.Require(ctx, src, params.GitHubToken)
		if err != nil {
			return nil, fmt.Errorf("github token: %w", err)
		}
		return forge.NewGitHubToken(httpClient, token, cfg.GitHub.BaseURL, logger)
	}

	rawID, err := params.Require(ctx, src, params.GitHubAppID)
	if err != nil {
		return nil, fmt.Errorf("github app id: %w", err)
	}
	appID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("github app id %q: %w", rawID, err)
	}
	key, err := params.Require(ctx, src, params.GitHubAppPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("github app private key: %w", err)
	}
	return forge.NewGitHubApp(httpClient, appID, []byte(key), cfg.GitHub.BaseURL, logger)
}

// functionSpecs advertises every registered tool to the assistant.
func functionSpecs(r *tools.Registry) []assistant.FunctionSpec {
	list := r.List()
	specs := make([]assistant.FunctionSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, assistant.FunctionSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return specs
}

func openRegistry(cfg *config.Config) (registry.Store, error) {
	if cfg.Registry.Driver != "postgres" {
		if err := os.MkdirAll(filepath.Dir(cfg.DataPath(cfg.Registry.Path)), 0o755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}
	store, err := registry.Open(cfg.Registry.Driver, cfg.Registry.DSN, cfg.DataPath(cfg.Registry.Path))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return store, nil
}

// serve runs the HTTP server, the optional Socket Mode listener and the
// optional MQTT forwarder until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	botUserID, err := a.chat.BotUserID(ctx)
	if err != nil {
		logger.Warn("could not identify bot user, own mentions will not be filtered", "error", err)
	} else {
		logger.Info("slack identity resolved", "bot_user_id", botUserID)
	}

	intake := api.NewIntake(api.IntakeConfig{
		Handler:   a.orchestrator,
		BotUserID: botUserID,
		Timeout:   cfg.Conversation.HandleTimeout,
		Bus:       a.bus,
		Logger:    logger.With("component", "intake"),
	})

	var forwarder *mqtt.Forwarder
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		forwarder = mqtt.New(cfg.MQTT, instanceID, logger.With("component", "mqtt"))
		if err := forwarder.Start(ctx, a.bus); err != nil {
			logger.Error("mqtt forwarding unavailable", "broker", cfg.MQTT.Broker, "error", err)
			forwarder = nil
		} else {
			logger.Info("mqtt forwarding enabled", "broker", cfg.MQTT.Broker, "base_topic", cfg.MQTT.BaseTopic)
		}
	} else {
		logger.Info("mqtt forwarding disabled (not configured)")
	}

	if cfg.Slack.AppToken != "" {
		listener := socket.New(a.chat.API(), intake, logger.With("component", "socket"))
		go func() {
			if err := listener.Run(ctx); !isClosed(err) {
				logger.Error("socket mode listener stopped", "error", err)
			}
		}()
	}

	go a.purgeLoop(ctx)

	services := connwatch.NewManager(logger.With("component", "connwatch"))
	services.Watch(ctx, "slack", func(ctx context.Context) error {
		_, err := a.chat.BotUserID(ctx)
		return err
	}, connwatch.DefaultBackoff())
	services.Watch(ctx, "openai", a.backend.Ping, connwatch.DefaultBackoff())
	services.Watch(ctx, "github", a.forge.Ping, connwatch.DefaultBackoff())

	server := api.NewServer(api.ServerConfig{
		Address:    cfg.Listen.Address,
		Port:       cfg.Listen.Port,
		EventsPath: cfg.Slack.EventsPath,
		Intake:     intake,
		Services:   services,
		Logger:     logger.With("component", "api"),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if forwarder != nil {
			if err := forwarder.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	<-done

	logger.Info("gitbot stopped")
	return nil
}

func (a *app) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.store.Purge(ctx)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				a.logger.Warn("registry purge failed", "error", err)
			case n > 0:
				a.logger.Info("expired thread bindings removed", "count", n)
			}
		}
	}
}
