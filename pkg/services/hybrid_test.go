package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/scoring"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/selector"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/telemetry"
)

const (
	localSQL = "SELECT FLOOR_NAME, SUM(PRODUCTION_QTY) AS PRODUCTION_QTY, SUM(DEFECT_QTY) AS DEFECT_QTY FROM T_PROD " +
		"WHERE UPPER(FLOOR_NAME) LIKE '%CAL%' AND PROD_DATE BETWEEN TO_DATE('01-MAY-2024','DD-MON-YYYY') AND TO_DATE('31-MAY-2024','DD-MON-YYYY') GROUP BY FLOOR_NAME"
	apiSQL = "SELECT FLOOR_NAME, SUM(PRODUCTION_QTY) AS PRODUCTION_QTY, SUM(DEFECT_QTY) AS DEFECT_QTY FROM T_PROD " +
		"WHERE UPPER(FLOOR_NAME) LIKE '%CAL%' AND PROD_DATE >= DATE '2024-05-01' AND PROD_DATE < DATE '2024-06-01' GROUP BY FLOOR_NAME"
)

type fakeGenerator struct {
	role  string
	model string
	fn    func(ctx context.Context, req *GenerationRequest) (string, error)

	mu    sync.Mutex
	calls int
	last  *GenerationRequest
}

func newFakeGenerator(role, sqlText string) *fakeGenerator {
	return &fakeGenerator{
		role:  role,
		model: role + "-model",
		fn: func(context.Context, *GenerationRequest) (string, error) {
			return sqlText, nil
		},
	}
}

func (g *fakeGenerator) Role() string  { return g.role }
func (g *fakeGenerator) Model() string { return g.model }

func (g *fakeGenerator) Generate(ctx context.Context, req *GenerationRequest) (*Generation, error) {
	g.mu.Lock()
	g.calls++
	g.last = req
	g.mu.Unlock()

	sqlText, err := g.fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Generation{Role: g.role, Model: g.model, SQL: sqlText, PromptTokens: 100, CompletionTokens: 20}, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGenerator) LastRequest() *GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// blockUntilDone waits for the path's context to end.
func blockUntilDone(ctx context.Context, _ *GenerationRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type recordingRecorder struct {
	mu         sync.Mutex
	usage      []telemetry.TokenUsage
	selections []telemetry.SelectionDecision
}

func (r *recordingRecorder) RecordModelStatus(context.Context, *llm.ModelStatus) {}

func (r *recordingRecorder) RecordTokenUsage(_ context.Context, u telemetry.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, u)
}

func (r *recordingRecorder) RecordSelection(_ context.Context, d telemetry.SelectionDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selections = append(r.selections, d)
}

type panickingRecorder struct{}

func (panickingRecorder) RecordModelStatus(context.Context, *llm.ModelStatus) { panic("sink down") }
func (panickingRecorder) RecordTokenUsage(context.Context, telemetry.TokenUsage) {
	panic("sink down")
}
func (panickingRecorder) RecordSelection(context.Context, telemetry.SelectionDecision) {
	panic("sink down")
}

type panickingScorer struct{}

func (panickingScorer) Score(string, scoring.QueryContext) scoring.ResponseMetrics {
	panic("scorer bug")
}

func fastHybridConfig() config.HybridConfig {
	return config.HybridConfig{
		LocalTimeout:           2 * time.Second,
		MultiFieldLocalTimeout: 3 * time.Second,
		APITimeout:             2 * time.Second,
		TotalTimeout:           4 * time.Second,
		GracePeriod:            time.Second,
		SkipAPIConfidence:      0.6,
		LowConfidence:          0.3,
	}
}

func newTestProcessor(t *testing.T, deps HybridProcessorDeps, cfg config.HybridConfig) HybridProcessor {
	t.Helper()
	if deps.DB == "" {
		deps.DB = "erp"
	}
	p, err := NewHybridProcessor(deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestHybridProcessor_ParallelSelectsOneCandidate(t *testing.T) {
	local := newFakeGenerator(RoleLocal, localSQL)
	api := newFakeGenerator(RoleAPI, apiSQL)
	rec := &recordingRecorder{}
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api, Recorder: rec}, fastHybridConfig())

	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)

	require.True(t, res.Succeeded())
	assert.Equal(t, ModeHybridParallel, res.ProcessingMode)
	assert.Equal(t, "production-critical question", res.Routing.Reason)
	assert.Equal(t,
		[]State{StateReceived, StateClassified, StateParallel, StateScored, StateSelected},
		res.States)
	assert.True(t, res.Local.Ran)
	assert.True(t, res.API.Ran)
	assert.Equal(t, "local-model", res.Local.Model)
	assert.Equal(t, "api-model", res.API.Model)
	require.NotNil(t, res.LocalMetrics)
	require.NotNil(t, res.APIMetrics)

	require.NotNil(t, res.Selection)
	require.NotNil(t, res.Selection.Local)
	require.NotNil(t, res.Selection.API)
	switch res.SelectedSource {
	case selector.SourceLocal:
		assert.Equal(t, localSQL, res.SelectedSQL)
	case selector.SourceAPI:
		assert.Equal(t, apiSQL, res.SelectedSQL)
	default:
		t.Fatalf("unexpected source %q", res.SelectedSource)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.usage, 2)
	for _, u := range rec.usage {
		assert.Equal(t, res.TurnID, u.TurnID)
		assert.Equal(t, 100, u.PromptTokens)
	}
	require.Len(t, rec.selections, 1)
	d := rec.selections[0]
	assert.Equal(t, res.TurnID, d.TurnID)
	assert.Equal(t, "production_query", d.Intent)
	assert.Equal(t, string(res.SelectedSource), d.Source)
	assert.InDelta(t, res.Selection.Local.Composite, d.LocalScore, 1e-9)
	assert.InDelta(t, res.Selection.API.Composite, d.APIScore, 1e-9)
	assert.NotEmpty(t, d.Reasoning)
}

func TestHybridProcessor_LocalHintsAndSchema(t *testing.T) {
	intro, _ := newTestCatalog(t)
	local := newFakeGenerator(RoleLocal, localSQL)
	api := newFakeGenerator(RoleAPI, apiSQL)
	p := newTestProcessor(t, HybridProcessorDeps{
		Local:  local,
		API:    api,
		Schema: NewSchemaContextBuilder(intro, []string{"T_PROD"}, zap.NewNop()),
	}, fastHybridConfig())

	p.ProcessQueryAdvanced(context.Background(), scenarioA)

	req := local.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "erp", req.DB)
	require.NotNil(t, req.Schema)
	assert.Contains(t, req.Schema.Text, "T_PROD(PROD_DATE DATE")
	require.NotEmpty(t, req.Hints)
	assert.Contains(t, req.Hints[0], "Date range: ")
	assert.Contains(t, req.Hints[0], "01-MAY-2024")
}

func TestHybridProcessor_ConfidentSimpleLookupSkipsAPI(t *testing.T) {
	local := newFakeGenerator(RoleLocal, "SELECT DESIGNATION FROM EMP WHERE EMP_ID = 1234")
	api := newFakeGenerator(RoleAPI, "SELECT DESIGNATION FROM EMP WHERE EMP_ID = 1234")
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api}, fastHybridConfig())

	res := p.ProcessQueryAdvanced(context.Background(), "what is the designation of employee 1234")

	assert.Equal(t, ModeLocalOnly, res.ProcessingMode)
	assert.Equal(t, selector.SourceLocal, res.SelectedSource)
	assert.Contains(t, res.States, StateLocalOnly)
	assert.False(t, res.API.Ran)
	assert.Zero(t, api.Calls())
	assert.Equal(t, 1, local.Calls())
	assert.Equal(t, "Only local response available", res.Selection.Reasoning[0])
}

func TestHybridProcessor_MissingGeneratorRoutesToTheOther(t *testing.T) {
	api := newFakeGenerator(RoleAPI, apiSQL)
	p := newTestProcessor(t, HybridProcessorDeps{API: api}, fastHybridConfig())

	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)

	assert.Equal(t, ModeAPIOnly, res.ProcessingMode)
	assert.Equal(t, "local generator unavailable", res.Routing.Reason)
	assert.Equal(t, selector.SourceAPI, res.SelectedSource)
	assert.Contains(t, res.States, StateAPIOnly)
	assert.False(t, res.Local.Ran)
}

func TestHybridProcessor_TimedOutPathDegradesToOther(t *testing.T) {
	local := newFakeGenerator(RoleLocal, "")
	local.fn = blockUntilDone
	api := newFakeGenerator(RoleAPI, apiSQL)

	cfg := fastHybridConfig()
	cfg.LocalTimeout = 20 * time.Millisecond
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api}, cfg)

	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)

	assert.Equal(t, ModeHybridParallel, res.ProcessingMode)
	assert.True(t, res.Local.TimedOut)
	assert.Contains(t, res.Local.Error, "generation timed out")
	assert.Empty(t, res.Local.SQL)
	assert.Equal(t, selector.SourceAPI, res.SelectedSource)
	assert.Equal(t, apiSQL, res.SelectedSQL)
	assert.Equal(t, "Only API response available", res.Selection.Reasoning[0])
}

func TestHybridProcessor_TotalBudgetPlusGraceBoundsWait(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	local := newFakeGenerator(RoleLocal, "")
	local.fn = func(context.Context, *GenerationRequest) (string, error) {
		<-release
		return localSQL, nil
	}
	api := newFakeGenerator(RoleAPI, apiSQL)

	cfg := fastHybridConfig()
	cfg.TotalTimeout = 30 * time.Millisecond
	cfg.GracePeriod = 20 * time.Millisecond
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api}, cfg)

	start := time.Now()
	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.True(t, res.Local.TimedOut)
	assert.Equal(t, selector.SourceAPI, res.SelectedSource)
}

func TestHybridProcessor_FirstAnswerStartsGracePeriod(t *testing.T) {
	local := newFakeGenerator(RoleLocal, localSQL)
	api := newFakeGenerator(RoleAPI, "")
	api.fn = func(ctx context.Context, _ *GenerationRequest) (string, error) {
		select {
		case <-time.After(3 * time.Second):
			return apiSQL, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	cfg := fastHybridConfig()
	cfg.APITimeout = 5 * time.Second
	cfg.TotalTimeout = 10 * time.Second
	cfg.GracePeriod = 200 * time.Millisecond
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api}, cfg)

	start := time.Now()
	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, ModeHybridParallel, res.ProcessingMode)
	assert.True(t, res.API.TimedOut)
	assert.False(t, res.Local.TimedOut)
	assert.Equal(t, selector.SourceLocal, res.SelectedSource)
	assert.Equal(t, localSQL, res.SelectedSQL)
}

func TestHybridProcessor_FastFailureDoesNotCutOtherPathShort(t *testing.T) {
	local := newFakeGenerator(RoleLocal, "")
	local.fn = func(context.Context, *GenerationRequest) (string, error) {
		return "", errors.New("local generation: connection refused")
	}
	api := newFakeGenerator(RoleAPI, "")
	api.fn = func(ctx context.Context, _ *GenerationRequest) (string, error) {
		select {
		case <-time.After(150 * time.Millisecond):
			return apiSQL, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	cfg := fastHybridConfig()
	cfg.GracePeriod = 20 * time.Millisecond
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api}, cfg)

	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)

	assert.False(t, res.API.TimedOut)
	assert.Equal(t, selector.SourceAPI, res.SelectedSource)
	assert.Equal(t, apiSQL, res.SelectedSQL)
}

func TestHybridProcessor_FailedAndEmptyPathsGiveNoResponse(t *testing.T) {
	local := newFakeGenerator(RoleLocal, "")
	api := newFakeGenerator(RoleAPI, "")
	api.fn = func(context.Context, *GenerationRequest) (string, error) {
		return "", errors.New("api generation: rate_limit HTTP 429")
	}
	rec := &recordingRecorder{}
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api, Recorder: rec}, fastHybridConfig())

	res := p.ProcessQueryAdvanced(context.Background(), scenarioA)

	assert.False(t, res.Succeeded())
	assert.Equal(t, ModeNoResponse, res.ProcessingMode)
	assert.Equal(t, noResponseMessage, res.Message)
	assert.Equal(t, selector.SourceNone, res.SelectedSource)
	assert.NotContains(t, res.States, StateScored)
	assert.Contains(t, res.API.Error, "HTTP 429")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.selections, 1)
	assert.Equal(t, "none", rec.selections[0].Source)
	assert.Equal(t, ModeNoResponse, rec.selections[0].ProcessingMode)
	assert.Len(t, rec.usage, 1, "only the path that answered reports tokens")
}

func TestHybridProcessor_PanicsAreContained(t *testing.T) {
	t.Run("scorer", func(t *testing.T) {
		p := newTestProcessor(t, HybridProcessorDeps{
			Local:  newFakeGenerator(RoleLocal, localSQL),
			API:    newFakeGenerator(RoleAPI, apiSQL),
			Scorer: panickingScorer{},
		}, fastHybridConfig())

		var res *ProcessingResult
		require.NotPanics(t, func() { res = p.ProcessQueryAdvanced(context.Background(), scenarioA) })
		assert.Equal(t, ModeProcessingError, res.ProcessingMode)
		assert.Equal(t, errorMessage, res.Message)
		assert.Empty(t, res.SelectedSQL)
		assert.Equal(t, StateError, res.States[len(res.States)-1])
	})

	t.Run("generator", func(t *testing.T) {
		local := newFakeGenerator(RoleLocal, "")
		local.fn = func(context.Context, *GenerationRequest) (string, error) { panic("nil map") }
		p := newTestProcessor(t, HybridProcessorDeps{
			Local: local,
			API:   newFakeGenerator(RoleAPI, apiSQL),
		}, fastHybridConfig())

		res := p.ProcessQueryAdvanced(context.Background(), scenarioA)
		assert.Contains(t, res.Local.Error, "local generator panicked")
		assert.Equal(t, selector.SourceAPI, res.SelectedSource)
	})

	t.Run("recorder", func(t *testing.T) {
		p := newTestProcessor(t, HybridProcessorDeps{
			Local:    newFakeGenerator(RoleLocal, localSQL),
			API:      newFakeGenerator(RoleAPI, apiSQL),
			Recorder: panickingRecorder{},
		}, fastHybridConfig())

		res := p.ProcessQueryAdvanced(context.Background(), scenarioA)
		assert.True(t, res.Succeeded())
	})
}

func TestHybridProcessor_MultiFieldQuestionsGetLongerLocalTimeout(t *testing.T) {
	var remaining time.Duration
	local := newFakeGenerator(RoleLocal, "")
	local.fn = func(ctx context.Context, _ *GenerationRequest) (string, error) {
		if dl, ok := ctx.Deadline(); ok {
			remaining = time.Until(dl)
		}
		return "SELECT NAME, DESIGNATION, SALARY FROM EMP WHERE EMP_ID = 7", nil
	}
	p := newTestProcessor(t, HybridProcessorDeps{Local: local}, fastHybridConfig())

	res := p.ProcessQueryAdvanced(context.Background(), "show name, designation and salary of employee 7")

	require.True(t, res.Classification.MultiField)
	assert.Greater(t, remaining, 2*time.Second)
	assert.LessOrEqual(t, remaining, 3*time.Second)

	req := local.LastRequest()
	assert.Contains(t, req.Hints, "Select every field the question names.")
}

func TestHybridProcessor_CanceledContextStopsWaiting(t *testing.T) {
	local := newFakeGenerator(RoleLocal, "")
	local.fn = blockUntilDone
	api := newFakeGenerator(RoleAPI, "")
	api.fn = blockUntilDone
	p := newTestProcessor(t, HybridProcessorDeps{Local: local, API: api}, fastHybridConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := p.ProcessQueryAdvanced(ctx, scenarioA)

	assert.Equal(t, ModeNoResponse, res.ProcessingMode)
	assert.NotEmpty(t, res.Message)
}

func TestNewHybridProcessor_Validation(t *testing.T) {
	_, err := NewHybridProcessor(HybridProcessorDeps{}, fastHybridConfig(), zap.NewNop())
	assert.Error(t, err)

	cfg := fastHybridConfig()
	cfg.APITimeout = 0
	_, err = NewHybridProcessor(HybridProcessorDeps{Local: newFakeGenerator(RoleLocal, "")}, cfg, zap.NewNop())
	assert.Error(t, err)
}
