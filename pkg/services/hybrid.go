package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/scoring"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/selector"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/telemetry"
)

// Processing modes reported on a ProcessingResult.
const (
	ModeLocalOnly       = string(StrategyLocalOnly)
	ModeAPIOnly         = string(StrategyAPIOnly)
	ModeHybridParallel  = string(StrategyParallel)
	ModeNoResponse      = "no_response"
	ModeProcessingError = "processing_error"
)

// State is a step of one question's processing.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateClassified State = "CLASSIFIED"
	StateLocalOnly  State = "LOCAL_ONLY"
	StateAPIOnly    State = "API_ONLY"
	StateParallel   State = "PARALLEL"
	StateScored     State = "SCORED"
	StateSelected   State = "SELECTED"
	StateDisplayed  State = "DISPLAYED"
	StateError      State = "ERROR"
)

const (
	noResponseMessage = "I couldn't generate a query for that question. Please try rephrasing it."
	errorMessage      = "Sorry, something went wrong while processing your question. Please try again."
)

// PathResult is how one generation path ended.
type PathResult struct {
	Model    string        `json:"model,omitempty"`
	SQL      string        `json:"sql,omitempty"`
	Ran      bool          `json:"ran"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
	// Error is a sanitized description of the failure, if any.
	Error string `json:"error,omitempty"`
}

// ProcessingResult is the outcome of one question. It is never nil and
// carries a user-facing Message whenever no SQL was selected.
type ProcessingResult struct {
	TurnID         uuid.UUID       `json:"turn_id"`
	Question       string          `json:"question"`
	SelectedSQL    string          `json:"selected_sql,omitempty"`
	SelectedSource selector.Source `json:"selected_source"`
	ProcessingMode string          `json:"processing_mode"`
	Message        string          `json:"message,omitempty"`

	Classification  *Classification          `json:"-"`
	Routing         RoutingDecision          `json:"routing"`
	LocalConfidence float64                  `json:"local_confidence"`
	APIConfidence   float64                  `json:"api_confidence"`
	Local           PathResult               `json:"local"`
	API             PathResult               `json:"api"`
	LocalMetrics    *scoring.ResponseMetrics `json:"local_metrics,omitempty"`
	APIMetrics      *scoring.ResponseMetrics `json:"api_metrics,omitempty"`
	Selection       *selector.Selection      `json:"selection,omitempty"`

	States   []State       `json:"states"`
	Duration time.Duration `json:"duration"`
}

func (r *ProcessingResult) advance(s State) { r.States = append(r.States, s) }

// Succeeded reports whether a statement was selected.
func (r *ProcessingResult) Succeeded() bool { return r.SelectedSQL != "" }

func (r *ProcessingResult) fail() {
	r.ProcessingMode = ModeProcessingError
	r.SelectedSQL = ""
	r.SelectedSource = selector.SourceNone
	r.Message = errorMessage
	r.advance(StateError)
}

// HybridProcessor answers a question with the best SQL from the local and
// API generators.
type HybridProcessor interface {
	// ProcessQueryAdvanced never returns an error or panics; failures are
	// reported in the result's ProcessingMode and Message.
	ProcessQueryAdvanced(ctx context.Context, question string) *ProcessingResult
}

// HybridProcessorDeps are the collaborators of a HybridProcessor. Local or
// API may be nil, but not both. Nil Classifier, Scorer, Selector, Dates and
// Recorder get defaults; a nil Schema sends no schema context.
type HybridProcessorDeps struct {
	Local      SQLGenerator
	API        SQLGenerator
	Classifier *QueryClassifier
	Thresholds *ConfidenceThresholdManager
	Scorer     scoring.Scorer
	Selector   *selector.Selector
	Schema     SchemaContextProvider
	Dates      *dates.Extractor
	Recorder   telemetry.Recorder
	// DB names the database generated SQL runs against.
	DB string
}

type hybridProcessor struct {
	deps   HybridProcessorDeps
	cfg    config.HybridConfig
	logger *zap.Logger
}

// NewHybridProcessor creates a processor.
func NewHybridProcessor(deps HybridProcessorDeps, cfg config.HybridConfig, logger *zap.Logger) (HybridProcessor, error) {
	if deps.Local == nil && deps.API == nil {
		return nil, errors.New("at least one SQL generator is required")
	}
	if cfg.TotalTimeout <= 0 || cfg.LocalTimeout <= 0 || cfg.APITimeout <= 0 {
		return nil, errors.New("hybrid timeouts must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Classifier == nil {
		deps.Classifier = NewQueryClassifier(nil)
	}
	if deps.Thresholds == nil {
		deps.Thresholds = NewConfidenceThresholdManager(cfg)
	}
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewSQLValidator(logger)
	}
	if deps.Selector == nil {
		sel, err := selector.New(selector.DefaultWeights(), selector.DefaultDomainRules(), logger)
		if err != nil {
			return nil, fmt.Errorf("default selector: %w", err)
		}
		deps.Selector = sel
	}
	if deps.Dates == nil {
		deps.Dates = dates.NewExtractor(0)
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop{}
	}
	return &hybridProcessor{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("hybrid-processor"),
	}, nil
}

// ProcessQueryAdvanced classifies the question, routes it to one or both
// generators, scores what comes back and selects a statement.
func (p *hybridProcessor) ProcessQueryAdvanced(ctx context.Context, question string) (result *ProcessingResult) {
	start := time.Now()
	result = &ProcessingResult{
		TurnID:         uuid.New(),
		Question:       question,
		SelectedSource: selector.SourceNone,
		States:         []State{StateReceived},
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Question processing panicked",
				zap.String("turn_id", result.TurnID.String()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result.fail()
		}
		result.Duration = time.Since(start)
		p.recordSelection(ctx, result)
	}()

	c := p.deps.Classifier.Classify(question)
	result.Classification = c
	result.advance(StateClassified)

	result.LocalConfidence = EstimateLocalConfidence(c)
	result.APIConfidence = APIConfidence
	result.Routing = p.route(result.LocalConfidence, c)
	result.ProcessingMode = string(result.Routing.Strategy)

	p.logger.Debug("Routed question",
		zap.String("turn_id", result.TurnID.String()),
		zap.String("intent", c.IntentName()),
		zap.Float64("local_confidence", result.LocalConfidence),
		zap.String("strategy", string(result.Routing.Strategy)),
		zap.String("reason", result.Routing.Reason))

	req := &GenerationRequest{
		Question:       question,
		Hints:          p.hints(question, c),
		DB:             p.deps.DB,
		Classification: c,
	}
	if p.deps.Schema != nil {
		sc, err := p.deps.Schema.SchemaContext(ctx, p.deps.DB)
		if err != nil {
			p.logger.Warn("Schema context unavailable", zap.Error(err))
		} else {
			req.Schema = sc
		}
	}

	local, api := p.dispatch(ctx, result, req)
	p.recordPath(ctx, result, &result.Local, local)
	p.recordPath(ctx, result, &result.API, api)

	qc := scoring.QueryContext{
		Question:   question,
		Intent:     c.IntentName(),
		MultiField: c.MultiField,
	}
	if req.Schema != nil {
		qc.Schema = req.Schema.Tables
	}

	if result.Local.SQL == "" && result.API.SQL == "" {
		p.logger.Info("No generator produced usable SQL",
			zap.String("turn_id", result.TurnID.String()),
			zap.String("mode", result.ProcessingMode))
		result.ProcessingMode = ModeNoResponse
		result.Message = noResponseMessage
		return result
	}

	if result.Local.SQL != "" {
		m := p.deps.Scorer.Score(result.Local.SQL, qc)
		result.LocalMetrics = &m
	}
	if result.API.SQL != "" {
		m := p.deps.Scorer.Score(result.API.SQL, qc)
		result.APIMetrics = &m
	}
	result.advance(StateScored)

	sel := p.deps.Selector.SelectBestResponse(
		selector.Candidate{SQL: result.Local.SQL, Metrics: result.LocalMetrics, Confidence: result.LocalConfidence, Model: result.Local.Model},
		selector.Candidate{SQL: result.API.SQL, Metrics: result.APIMetrics, Confidence: result.APIConfidence, Model: result.API.Model},
		qc,
	)
	result.Selection = &sel
	result.SelectedSQL = sel.SQL
	result.SelectedSource = sel.Source
	result.advance(StateSelected)

	p.logger.Info("Selected response",
		zap.String("turn_id", result.TurnID.String()),
		zap.String("source", string(sel.Source)),
		zap.String("mode", result.ProcessingMode),
		zap.Float64("margin", sel.Margin))
	return result
}

// route applies the confidence rules and then drops any path whose
// generator is not configured.
func (p *hybridProcessor) route(localConfidence float64, c *Classification) RoutingDecision {
	switch {
	case p.deps.API == nil:
		return RoutingDecision{Strategy: StrategyLocalOnly, Reason: "API generator unavailable"}
	case p.deps.Local == nil:
		return RoutingDecision{Strategy: StrategyAPIOnly, Reason: "local generator unavailable"}
	}
	return p.deps.Thresholds.Decide(localConfidence, c)
}

// hints are resolved facts passed to the local model with the question.
func (p *hybridProcessor) hints(question string, c *Classification) []string {
	var hints []string
	if r, ok := p.deps.Dates.ExtractRange(question); ok {
		hints = append(hints, fmt.Sprintf("Date range: %s to %s", r.StartLiteral(), r.EndLiteral()))
	}
	if codes := c.Entities[EntityCodes]; len(codes) > 0 {
		hints = append(hints, "Codes: "+strings.Join(codes, ", "))
	}
	if c.MultiField {
		hints = append(hints, "Select every field the question names.")
	}
	return hints
}

// outcome is what one generation path returned.
type outcome struct {
	gen      *Generation
	err      error
	timedOut bool
	elapsed  time.Duration
}

// answered reports whether the path produced SQL. A path that failed fast
// does not start the grace period for the other.
func (o *outcome) answered() bool {
	return o.err == nil && o.gen != nil && strings.TrimSpace(o.gen.SQL) != ""
}

// dispatch runs the routed generators, each under its own timeout. As soon
// as one path answers, the path still running gets the grace period and is
// then cancelled. If neither has answered when the total budget is spent,
// both get the grace period, so no question waits longer than total plus
// grace.
func (p *hybridProcessor) dispatch(ctx context.Context, result *ProcessingResult, req *GenerationRequest) (local, api *outcome) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var localCh, apiCh chan outcome
	switch result.Routing.Strategy {
	case StrategyLocalOnly:
		result.advance(StateLocalOnly)
		localCh = p.launch(runCtx, p.deps.Local, req, p.localTimeout(req.Classification))
	case StrategyAPIOnly:
		result.advance(StateAPIOnly)
		apiCh = p.launch(runCtx, p.deps.API, req, p.cfg.APITimeout)
	default:
		result.advance(StateParallel)
		localCh = p.launch(runCtx, p.deps.Local, req, p.localTimeout(req.Classification))
		apiCh = p.launch(runCtx, p.deps.API, req, p.cfg.APITimeout)
	}
	result.Local.Ran = localCh != nil
	result.API.Ran = apiCh != nil

	pending := 0
	for _, ch := range []chan outcome{localCh, apiCh} {
		if ch != nil {
			pending++
		}
	}

	start := time.Now()
	total := time.NewTimer(p.cfg.TotalTimeout)
	defer total.Stop()

	var grace <-chan time.Time
	stopGrace := func() bool { return false }
	startGrace := func(reason string) {
		if grace != nil {
			return
		}
		p.logger.Debug("Granting grace period to pending generation",
			zap.String("turn_id", result.TurnID.String()),
			zap.String("reason", reason),
			zap.Duration("grace", p.cfg.GracePeriod))
		g := time.NewTimer(p.cfg.GracePeriod)
		stopGrace = g.Stop
		grace = g.C
	}
	defer func() { stopGrace() }()

	for pending > 0 {
		select {
		case o := <-localCh:
			local, localCh = &o, nil
			pending--
			if pending > 0 && o.answered() {
				startGrace("local answered first")
			}
		case o := <-apiCh:
			api, apiCh = &o, nil
			pending--
			if pending > 0 && o.answered() {
				startGrace("api answered first")
			}
		case <-total.C:
			p.logger.Warn("Total generation budget spent",
				zap.String("turn_id", result.TurnID.String()))
			startGrace("total budget spent")
		case <-grace:
			pending = 0
		case <-ctx.Done():
			pending = 0
		}
	}

	abandoned := func(ch chan outcome) *outcome {
		if ch == nil {
			return nil
		}
		return &outcome{
			err:      apperrors.ErrGenerationTimeout,
			timedOut: true,
			elapsed:  time.Since(start),
		}
	}
	if local == nil {
		local = abandoned(localCh)
	}
	if api == nil {
		api = abandoned(apiCh)
	}
	return local, api
}

func (p *hybridProcessor) localTimeout(c *Classification) time.Duration {
	if c != nil && c.MultiField && p.cfg.MultiFieldLocalTimeout > 0 {
		return p.cfg.MultiFieldLocalTimeout
	}
	return p.cfg.LocalTimeout
}

// launch runs one generator in its own goroutine. The returned channel is
// buffered so an abandoned path never blocks.
func (p *hybridProcessor) launch(ctx context.Context, g SQLGenerator, req *GenerationRequest, timeout time.Duration) chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		start := time.Now()
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Generator panicked",
					zap.String("role", g.Role()),
					zap.Any("panic", r),
					zap.Stack("stack"))
				o = outcome{err: fmt.Errorf("%s generator panicked: %v", g.Role(), r)}
			}
			o.elapsed = time.Since(start)
			ch <- o
		}()

		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		o.gen, o.err = g.Generate(pctx, req)
		if o.err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
			o.timedOut = true
			o.err = fmt.Errorf("%w: %w", apperrors.ErrGenerationTimeout, o.err)
		}
	}()
	return ch
}

// recordPath copies a path's outcome onto the result and reports its tokens.
func (p *hybridProcessor) recordPath(ctx context.Context, result *ProcessingResult, pr *PathResult, o *outcome) {
	if o == nil {
		return
	}
	pr.TimedOut = o.timedOut
	pr.Duration = o.elapsed
	if o.gen != nil {
		pr.Model = o.gen.Model
		pr.SQL = o.gen.SQL
		p.safeRecord(func() {
			p.deps.Recorder.RecordTokenUsage(ctx, telemetry.TokenUsage{
				TurnID:           result.TurnID,
				Role:             o.gen.Role,
				Model:            o.gen.Model,
				PromptTokens:     o.gen.PromptTokens,
				CompletionTokens: o.gen.CompletionTokens,
			})
		})
	}
	if o.err != nil {
		pr.SQL = ""
		pr.Error = logging.SanitizeError(o.err)
		p.logger.Warn("Generation path yielded no candidate",
			zap.String("turn_id", result.TurnID.String()),
			zap.String("model", pr.Model),
			zap.Bool("timed_out", o.timedOut),
			zap.String("error", pr.Error))
	}
}

func (p *hybridProcessor) recordSelection(ctx context.Context, result *ProcessingResult) {
	d := telemetry.SelectionDecision{
		TurnID:         result.TurnID,
		Question:       result.Question,
		Intent:         result.Classification.IntentName(),
		ProcessingMode: result.ProcessingMode,
		Source:         string(result.SelectedSource),
		LocalModel:     result.Local.Model,
		APIModel:       result.API.Model,
		Duration:       result.Duration,
	}
	if s := result.Selection; s != nil {
		d.Reasoning = s.Reasoning
		if s.Local != nil {
			d.LocalScore = s.Local.Composite
		}
		if s.API != nil {
			d.APIScore = s.API.Composite
		}
	}
	p.safeRecord(func() { p.deps.Recorder.RecordSelection(ctx, d) })
}

// safeRecord keeps a failing recorder from affecting the answer.
func (p *hybridProcessor) safeRecord(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Telemetry recorder panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
