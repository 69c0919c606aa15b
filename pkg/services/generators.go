package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/labelfilter"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/sqlbuild"
)

// Generator roles.
const (
	RoleLocal = "local"
	RoleAPI   = "api"
)

const (
	localTemperature = 0.0
	apiTemperature   = 0.1
)

const sqlRules = `Rules:
- Answer with exactly one Oracle SELECT statement. Never modify data.
- Use only the tables and columns listed in the schema.
- Write dates as TO_DATE('DD-MON-YYYY','DD-MON-YYYY'), for example TO_DATE('05-AUG-2024','DD-MON-YYYY').
- Compare DATE columns with date values, never with LIKE.
- Bucket dates only with TO_CHAR masks MON-YY, MON-YYYY, YYYY-MM, YYYY or DD-MON-YYYY.
- Limit rows with FETCH FIRST n ROWS ONLY. Oracle has no LIMIT clause.
- Production tables identify floors by FLOOR_NAME; there is no COMPANY column.`

const localSystemMessage = `You write Oracle SQL for a garment manufacturing ERP database.
` + sqlRules + `
- You may instead answer with a JSON query plan: {"table": "...", "dims": [...], "metrics": [...], "filters": [...], "order_by": [...], "limit": n}.
Do not explain the answer.`

const apiSystemMessage = `You are an expert Oracle SQL developer working on a garment manufacturing ERP database.
` + sqlRules + `
Return the statement in a single ` + "```sql" + ` code block.`

// GenerationRequest is what a generator is asked for one question.
type GenerationRequest struct {
	Question string
	// Hints are resolved facts (date window, codes) appended for the local model.
	Hints          []string
	Schema         *SchemaContext
	DB             string
	Classification *Classification
}

// Generation is one generator's answer. SQL is empty when the model produced
// nothing usable; token counts are still reported.
type Generation struct {
	Role             string
	Model            string
	SQL              string
	Raw              string
	FromPlan         bool
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// SQLGenerator turns a question into a candidate statement.
type SQLGenerator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*Generation, error)
	Role() string
	Model() string
}

// planMarker is a cheap test for a JSON plan before decoding one.
var planMarker = regexp.MustCompile(`"table"\s*:`)

type localSQLGenerator struct {
	client    llm.LLMClient
	assembler *sqlbuild.Assembler
	injector  *labelfilter.Injector
	logger    *zap.Logger
}

// NewLocalSQLGenerator creates the generator backed by the locally served
// model. Plans it returns are rendered by assembler; assembler and injector
// may be nil.
func NewLocalSQLGenerator(client llm.LLMClient, assembler *sqlbuild.Assembler, injector *labelfilter.Injector, logger *zap.Logger) SQLGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &localSQLGenerator{
		client:    client,
		assembler: assembler,
		injector:  injector,
		logger:    logger.Named("local-generator"),
	}
}

func (g *localSQLGenerator) Role() string  { return RoleLocal }
func (g *localSQLGenerator) Model() string { return g.client.GetModel() }

// Generate asks the local model for SQL or a plan. A plan that cannot be
// rendered returns the *sqlbuild.BuildError so it is never executed.
func (g *localSQLGenerator) Generate(ctx context.Context, req *GenerationRequest) (*Generation, error) {
	start := time.Now()
	resp, err := g.client.GenerateResponse(ctx, buildPrompt(req, true), localSystemMessage, localTemperature)
	if err != nil {
		return nil, fmt.Errorf("local generation: %w", err)
	}
	gen := newGeneration(RoleLocal, g.client.GetModel(), resp)
	defer func() { gen.Duration = time.Since(start) }()

	if g.assembler != nil {
		if plan, ok := planFromResponse(resp.Content); ok {
			sqlText, err := g.assembler.BuildSQLFromPlan(ctx, plan, req.DB, req.Question)
			if err != nil {
				return gen, err
			}
			gen.FromPlan = true
			gen.SQL = g.labelFilter(ctx, sqlText, req)
			return gen, nil
		}
	}

	sqlText, ok := ExtractSQLFromResponse(resp.Content)
	if !ok {
		g.logger.Debug("No usable SQL in local answer",
			zap.String("answer", logging.SanitizeQuery(resp.Content)))
		return gen, nil
	}
	gen.SQL = g.labelFilter(ctx, dates.NormalizeDates(sqlText), req)
	return gen, nil
}

func (g *localSQLGenerator) labelFilter(ctx context.Context, sqlText string, req *GenerationRequest) string {
	if g.injector == nil {
		return sqlText
	}
	return g.injector.EnsureLabelFilter(ctx, sqlText, req.Question, req.DB)
}

type apiSQLGenerator struct {
	client   llm.LLMClient
	injector *labelfilter.Injector
	logger   *zap.Logger
}

// NewAPISQLGenerator creates the generator backed by the remote model API.
// injector may be nil.
func NewAPISQLGenerator(client llm.LLMClient, injector *labelfilter.Injector, logger *zap.Logger) SQLGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &apiSQLGenerator{
		client:   client,
		injector: injector,
		logger:   logger.Named("api-generator"),
	}
}

func (g *apiSQLGenerator) Role() string  { return RoleAPI }
func (g *apiSQLGenerator) Model() string { return g.client.GetModel() }

// Generate asks the API model for SQL. The API is given the question as
// asked; it resolves dates itself.
func (g *apiSQLGenerator) Generate(ctx context.Context, req *GenerationRequest) (*Generation, error) {
	start := time.Now()
	resp, err := g.client.GenerateResponse(ctx, buildPrompt(req, false), apiSystemMessage, apiTemperature)
	if err != nil {
		return nil, fmt.Errorf("api generation: %w", err)
	}
	gen := newGeneration(RoleAPI, g.client.GetModel(), resp)
	gen.Duration = time.Since(start)

	sqlText, ok := ExtractSQLFromResponse(resp.Content)
	if !ok {
		g.logger.Debug("No usable SQL in API answer",
			zap.String("answer", logging.SanitizeQuery(resp.Content)))
		return gen, nil
	}
	sqlText = dates.NormalizeDates(sqlText)
	if g.injector != nil {
		sqlText = g.injector.EnsureLabelFilter(ctx, sqlText, req.Question, req.DB)
	}
	gen.SQL = sqlText
	return gen, nil
}

func newGeneration(role, model string, resp *llm.GenerateResponseResult) *Generation {
	if resp == nil {
		resp = &llm.GenerateResponseResult{}
	}
	return &Generation{
		Role:             role,
		Model:            model,
		Raw:              resp.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}
}

func planFromResponse(content string) (*sqlbuild.QueryPlan, bool) {
	if !planMarker.MatchString(content) {
		return nil, false
	}
	raw, err := llm.ExtractJSONObject(content)
	if err != nil {
		return nil, false
	}
	plan, err := sqlbuild.ParsePlan([]byte(raw))
	if err != nil {
		return nil, false
	}
	return plan, true
}

func buildPrompt(req *GenerationRequest, withHints bool) string {
	var b strings.Builder
	if req.Schema != nil && req.Schema.Text != "" {
		b.WriteString("Schema:\n")
		b.WriteString(req.Schema.Text)
		b.WriteString("\n\n")
	}
	if withHints && len(req.Hints) > 0 {
		b.WriteString("Hints:\n")
		for _, h := range req.Hints {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(req.Question)
	return b.String()
}
