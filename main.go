package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource/oracle"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/database"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/display"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/entities"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/guard"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/handlers"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/labelfilter"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/scoring"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/selector"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/services"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/sqlbuild"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/telemetry"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/workerpool"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	ask := flag.String("ask", "", "answer one question, print the result as JSON and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *ask, logger); err != nil {
		logger.Error("Assistant stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, ask string, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("oracle", fmt.Sprintf("%s@%s:%d/%s", cfg.Oracle.User, cfg.Oracle.Host, cfg.Oracle.Port, cfg.Oracle.Service)),
		zap.String("local_model", cfg.LocalModel.Model),
		zap.String("api_model", cfg.APIModel.Provider+"/"+cfg.APIModel.Model),
		zap.Bool("telemetry_persist", cfg.Telemetry.Persist))

	ds, err := datasource.Open(ctx, "oracle", cfg.Oracle.AdapterConfig(), logger)
	if err != nil {
		return fmt.Errorf("open oracle: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Warn("Failed to close oracle", zap.Error(err))
		}
	}()

	catalog, err := schema.NewIntrospector(cfg.SchemaCache.Size, logger)
	if err != nil {
		return fmt.Errorf("schema cache: %w", err)
	}
	catalog.Register(cfg.Oracle.Name, ds)

	recorder, closeTelemetry, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTelemetry()

	localClient, apiClient, err := newModelClients(cfg, logger)
	if err != nil {
		return err
	}
	go probeModels(ctx, recorder.board, recorder.all, localClient, apiClient)

	pool := workerpool.New(workerpool.Config{MaxConcurrent: cfg.Assembler.MaxProbeConcurrency}, logger)
	dateExtractor := dates.NewExtractor(cfg.Assembler.DefaultWindowDays)
	entityExtractor := entities.NewExtractor(nil)
	injector := labelfilter.NewInjector(catalog, entityExtractor, pool, logger)

	deps := services.HybridProcessorDeps{
		Classifier: services.NewQueryClassifier(entityExtractor),
		Scorer:     scoring.NewSQLValidator(logger),
		Schema:     services.NewSchemaContextBuilder(catalog, cfg.Oracle.Tables, logger),
		Dates:      dateExtractor,
		Recorder:   recorder.all,
		DB:         cfg.Oracle.Name,
	}
	if localClient != nil {
		assembler := sqlbuild.NewAssembler(catalog, dateExtractor, pool, logger)
		deps.Local = services.NewLocalSQLGenerator(localClient, assembler, injector, logger)
	}
	if apiClient != nil {
		deps.API = services.NewAPISQLGenerator(apiClient, injector, logger)
	}
	if deps.Selector, err = newSelector(cfg, logger); err != nil {
		return err
	}

	processor, err := services.NewHybridProcessor(deps, cfg.Hybrid, logger)
	if err != nil {
		return fmt.Errorf("hybrid processor: %w", err)
	}
	executor := services.NewQueryExecutionService(
		guard.New(catalog, logger),
		catalog,
		display.NewPolicy(catalog, dateExtractor, entityExtractor, logger),
		cfg.Oracle.Name,
		logger,
	)

	if ask != "" {
		return answer(ctx, processor, executor, ask)
	}

	var pinger handlers.Pinger
	if p, ok := ds.(handlers.Pinger); ok {
		pinger = p
	}
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, pinger, recorder.board, logger).RegisterRoutes(mux)
	handlers.NewMetricsHandler(prometheus.DefaultGatherer, logger).RegisterRoutes(mux)

	return serve(ctx, cfg, mux, logger)
}

// recorders bundles the fan-out recorder with the status board /health reads.
type recorders struct {
	all   telemetry.Recorder
	board *telemetry.StatusBoard
}

func newRecorder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*recorders, func(), error) {
	board := telemetry.NewStatusBoard()
	sinks := []telemetry.Recorder{board, telemetry.NewPrometheusRecorder(prometheus.DefaultRegisterer)}
	closeFn := func() {}

	if cfg.Telemetry.Persist {
		db, err := database.Open(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("engine database: %w", err)
		}
		pg := telemetry.NewPostgresRecorder(db, cfg.Telemetry.QueueSize, logger)
		sinks = append(sinks, pg)
		closeFn = func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pg.Close(flushCtx); err != nil {
				logger.Warn("Telemetry flush incomplete", zap.Error(err))
			}
			db.Close()
		}
	}

	return &recorders{all: telemetry.NewMulti(logger, sinks...), board: board}, closeFn, nil
}

// newModelClients builds the configured generator clients, each behind its
// own circuit breaker. A client that is not configured is returned as nil.
func newModelClients(cfg *config.Config, logger *zap.Logger) (local, api llm.LLMClient, err error) {
	if cfg.LocalModel.IsAvailable() {
		c, err := llm.NewClient(&llm.Config{
			Endpoint:  cfg.LocalModel.BaseURL,
			Model:     cfg.LocalModel.Model,
			APIKey:    cfg.LocalModel.APIKey,
			MaxTokens: cfg.LocalModel.MaxTokens,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("local model client: %w", err)
		}
		local = llm.NewGuardedClient(c, llm.NewCircuitBreaker(services.RoleLocal, llm.DefaultCircuitBreakerConfig()), nil, logger)
	}

	if cfg.APIModel.IsAvailable() {
		apiCfg := &llm.Config{
			Endpoint:  cfg.APIModel.BaseURL,
			Model:     cfg.APIModel.Model,
			APIKey:    cfg.APIModel.APIKey,
			MaxTokens: cfg.APIModel.MaxTokens,
		}
		var c llm.LLMClient
		switch cfg.APIModel.Provider {
		case "openai":
			if apiCfg.Endpoint == "" {
				apiCfg.Endpoint = "https://api.openai.com/v1"
			}
			c, err = llm.NewClient(apiCfg, logger)
		default:
			c, err = llm.NewAnthropicClient(apiCfg, logger)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("api model client: %w", err)
		}
		api = llm.NewGuardedClient(c, llm.NewCircuitBreaker(services.RoleAPI, llm.DefaultCircuitBreakerConfig()), nil, logger)
	}

	if local == nil && api == nil {
		return nil, nil, errors.New("no SQL generator configured: set local_model or API_MODEL_API_KEY")
	}
	return local, api, nil
}

// probeModels reports the reachability of each configured model once at
// startup.
func probeModels(ctx context.Context, board *telemetry.StatusBoard, rec telemetry.Recorder, local, api llm.LLMClient) {
	tester := llm.NewConnectionTester()
	for role, client := range map[string]llm.LLMClient{services.RoleLocal: local, services.RoleAPI: api} {
		if client == nil {
			board.RecordModelStatus(ctx, &llm.ModelStatus{Role: role, Message: role + " model not configured"})
			continue
		}
		rec.RecordModelStatus(ctx, tester.Test(ctx, role, client))
	}
}

func newSelector(cfg *config.Config, logger *zap.Logger) (*selector.Selector, error) {
	rules := selector.DefaultDomainRules()
	if path := cfg.Selector.DomainRulesPath; path != "" {
		loaded, err := selector.LoadDomainRules(path)
		if err != nil {
			return nil, fmt.Errorf("domain rules: %w", err)
		}
		rules = loaded
	}
	weights := selector.Weights{
		TechnicalAccuracy:   cfg.Selector.TechnicalAccuracy,
		BusinessLogic:       cfg.Selector.BusinessLogic,
		Performance:         cfg.Selector.Performance,
		ModelConfidence:     cfg.Selector.ModelConfidence,
		ManufacturingDomain: cfg.Selector.ManufacturingDomain,
	}
	sel, err := selector.New(weights, rules, logger)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	return sel, nil
}

// answerOutput is what -ask prints.
type answerOutput struct {
	Result    *services.ProcessingResult `json:"result"`
	Execution *services.ExecutionResult  `json:"execution,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

func answer(ctx context.Context, processor services.HybridProcessor, executor services.QueryExecutionService, question string) error {
	out := answerOutput{Result: processor.ProcessQueryAdvanced(ctx, question)}
	out.Message = out.Result.Message
	if out.Result.Succeeded() {
		res, err := executor.Answer(ctx, out.Result)
		if err != nil {
			out.Message = services.UserMessage(err)
		}
		out.Execution = res
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func serve(ctx context.Context, cfg *config.Config, mux *http.ServeMux, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-erp-assistant",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
