package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rca-orchestrator/backend/internal/api"
	"rca-orchestrator/backend/internal/auth"
	"rca-orchestrator/backend/internal/config"
	"rca-orchestrator/backend/internal/executor"
	"rca-orchestrator/backend/internal/knowledge"
	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/mcp"
	"rca-orchestrator/backend/internal/pipeline"
	"rca-orchestrator/backend/internal/scenario"
	"rca-orchestrator/backend/internal/services"
	"rca-orchestrator/backend/internal/tls"
)

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting RCA workflow service", "version", version, "environment", cfg.Environment)

	jobs, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()

	learning, err := openLearningStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer learning.Close()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	logger.Info("Scenario catalog loaded", "templates", catalog.Len(), "path", cfg.Pipeline.CatalogPath)

	var model services.ModelClient
	if cfg.MLSidecar.URL != "" {
		model = services.NewHTTPModelClient(cfg.MLSidecar.URL, cfg.MLSidecar.Timeout)
	}
	stages := buildStages(cfg, scenario.NewSelector(catalog), model, logger)
	runner := pipeline.New(stages...)

	kb, err := knowledge.Load(cfg.KnowledgeBase.Dir)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}
	logger.Info("Knowledge base loaded", "status", kb.Status(), "files", kb.Summary())

	pool := executor.NewPool(executor.Config{
		Workers:               cfg.Executor.Workers,
		QueueSize:             cfg.Executor.QueueSize,
		TerminalWriteAttempts: cfg.Executor.TerminalWriteAttempts,
		RetryBackoff:          cfg.Executor.RetryBackoff,
	}, jobs, runner, logger)
	// workers outlive the signal context so in-flight workflows can drain on shutdown
	pool.Start(context.WithoutCancel(ctx))

	opts := []services.Option{
		services.WithStages(runner.Stages()...),
		services.WithKnowledgeBase(kb),
		services.WithEstimatedTime(cfg.Pipeline.EstimatedTime),
	}
	if model != nil {
		opts = append(opts, services.WithModelClient(model))
	}
	svc := services.NewWorkflowService(jobs, learning, pool, pipeline.NewFeedbackLearner(), logger, opts...)

	logger.Info("Service layer initialized", "stages", runner.Stages(), "workers", cfg.Executor.Workers)

	e := api.NewEcho("rca-orchestrator", logger)

	routeOpts := api.RouteOptions{SubmitLimiter: api.SubmitRateLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)}
	if cfg.Auth.Enabled {
		authz, err := auth.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("auth initialization failed: %w", err)
		}
		e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
		e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
		e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))
		routeOpts.Auth = []echo.MiddlewareFunc{echo.WrapMiddleware(authz.RequireAuth)}

		if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
			logger.Warn("Swagger client ID matches the backend client ID; PKCE login from /docs will fail for a web app client")
		}
	} else {
		logger.Warn("Authentication is disabled; every caller may submit and review workflows")
	}

	api.RegisterHandlers(e, api.NewHandler(svc, logger, version), routeOpts)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(svc, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), routeOpts.Auth...)
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), routeOpts.Auth...)

	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- fmt.Errorf("failed to prepare TLS certificate: %w", err)
			return
		}
		if created {
			logger.Warn("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("Executor did not drain before the shutdown deadline", "error", err)
	}

	logger.Info("Server stopped")
	return serveErr
}

func loadCatalog(cfg *config.Config) (*scenario.Catalog, error) {
	if cfg.Pipeline.CatalogPath == "" {
		return scenario.DefaultCatalog()
	}
	return scenario.LoadCatalogFile(cfg.Pipeline.CatalogPath)
}

// buildStages assembles the default stage sequence, delegating configured
// stages to the model service and adding simulated latency when set.
func buildStages(cfg *config.Config, selector *scenario.Selector, model services.ModelClient, logger *logging.Logger) []pipeline.Stage {
	stages := pipeline.DefaultStages(selector)
	for i, st := range stages {
		if model != nil && slices.Contains(cfg.Pipeline.RemoteStages, st.Name()) {
			logger.Info("Delegating stage to model service", "stage", st.Name(), "url", cfg.MLSidecar.URL)
			st = pipeline.NewRemoteStage(st, model)
		}
		if cfg.Pipeline.SimulatedLatency > 0 {
			st = pipeline.WithLatency(st, cfg.Pipeline.SimulatedLatency)
		}
		stages[i] = st
	}
	for _, name := range cfg.Pipeline.RemoteStages {
		if !slices.ContainsFunc(stages, func(s pipeline.Stage) bool { return s.Name() == name }) {
			logger.Warn("Unknown remote stage ignored", "stage", name)
		}
	}
	return stages
}
