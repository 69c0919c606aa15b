package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/labelfilter"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/sqlbuild"
)

func erpTables() map[string][]datasource.Column {
	return map[string][]datasource.Column{
		"T_PROD": {
			{Name: "PROD_DATE", DataType: "DATE"},
			{Name: "FLOOR_ID", DataType: "NUMBER"},
			{Name: "FLOOR_NAME", DataType: "VARCHAR2(100)"},
			{Name: "PRODUCTION_QTY", DataType: "NUMBER"},
			{Name: "DEFECT_QTY", DataType: "NUMBER"},
			{Name: "DHU", DataType: "NUMBER(10,2)"},
		},
		"EMP": {
			{Name: "EMP_ID", DataType: "NUMBER"},
			{Name: "NAME", DataType: "VARCHAR2(100)"},
			{Name: "DESIGNATION", DataType: "VARCHAR2(60)"},
			{Name: "JOIN_DATE", DataType: "DATE"},
			{Name: "SALARY", DataType: "NUMBER(12,2)"},
		},
	}
}

// newTestCatalog returns an introspector over the ERP fixture tables whose
// probes find production rows by date and floors named CAL.
func newTestCatalog(t *testing.T) (*schema.Introspector, *datasource.MockDatasource) {
	t.Helper()
	ds := datasource.NewMockDatasource(erpTables())
	ds.ExistsFunc = func(_ context.Context, q string, params ...any) (bool, error) {
		if strings.Contains(q, "PROD_DATE BETWEEN") {
			return true, nil
		}
		if strings.Contains(q, "UPPER(FLOOR_NAME)") && len(params) > 0 {
			s, _ := params[0].(string)
			return strings.Contains(s, "CAL"), nil
		}
		return false, nil
	}
	intro, err := schema.NewIntrospector(32, zap.NewNop())
	require.NoError(t, err)
	intro.Register("erp", ds)
	return intro, ds
}

func newTestGenerators(t *testing.T, localClient, apiClient llm.LLMClient) (SQLGenerator, SQLGenerator) {
	t.Helper()
	intro, _ := newTestCatalog(t)
	assembler := sqlbuild.NewAssembler(intro, nil, nil, zap.NewNop())
	injector := labelfilter.NewInjector(intro, nil, nil, zap.NewNop())
	return NewLocalSQLGenerator(localClient, assembler, injector, zap.NewNop()),
		NewAPISQLGenerator(apiClient, injector, zap.NewNop())
}

const scenarioA = "CAL production vs defect for May 2024 by floor"

func TestLocalSQLGenerator_PlanIsAssembledAndFiltered(t *testing.T) {
	client := llm.NewStaticMockLLMClient("sqlcoder",
		`{"table": "T_PROD", "dims": ["FLOOR_NAME"], "metrics": ["PRODUCTION_QTY", "DEFECT_QTY"]}`)
	local, _ := newTestGenerators(t, client, llm.NewMockLLMClient())

	gen, err := local.Generate(context.Background(), &GenerationRequest{Question: scenarioA, DB: "erp"})
	require.NoError(t, err)

	assert.True(t, gen.FromPlan)
	assert.Equal(t, RoleLocal, gen.Role)
	assert.Equal(t, "sqlcoder", gen.Model)
	assert.Equal(t, 100, gen.PromptTokens)
	assert.Equal(t, 20, gen.CompletionTokens)
	assert.Contains(t, gen.SQL, "SUM(PRODUCTION_QTY)")
	assert.Contains(t, gen.SQL, "SUM(DEFECT_QTY)")
	assert.Contains(t, gen.SQL, "UPPER(FLOOR_NAME) LIKE '%CAL%'")
	assert.Contains(t, gen.SQL, "PROD_DATE BETWEEN TO_DATE('01-MAY-2024','DD-MON-YYYY') AND TO_DATE('31-MAY-2024','DD-MON-YYYY')")
	assert.True(t, strings.HasSuffix(gen.SQL, "GROUP BY FLOOR_NAME"))
}

func TestLocalSQLGenerator_PlanBuildErrorIsReturned(t *testing.T) {
	client := llm.NewStaticMockLLMClient("sqlcoder",
		`{"table": "T_PROD", "dims": [{"expr": "TO_CHAR(FLOOR_NAME,'MON-YY')", "as": "MONTH"}], "metrics": ["DHU"]}`)
	local, _ := newTestGenerators(t, client, llm.NewMockLLMClient())

	gen, err := local.Generate(context.Background(), &GenerationRequest{Question: "monthly dhu", DB: "erp"})

	var buildErr *sqlbuild.BuildError
	require.ErrorAs(t, err, &buildErr)
	require.NotNil(t, gen, "token usage is still reported")
	assert.Empty(t, gen.SQL)
	assert.Equal(t, 100, gen.PromptTokens)
}

func TestLocalSQLGenerator_RawSQLIsNormalized(t *testing.T) {
	client := llm.NewStaticMockLLMClient("sqlcoder",
		"```sql\nSELECT NAME FROM EMP WHERE JOIN_DATE > TO_DATE('2024-08-05','YYYY-MM-DD');\n```")
	local, _ := newTestGenerators(t, client, llm.NewMockLLMClient())

	gen, err := local.Generate(context.Background(), &GenerationRequest{
		Question: "who joined after 5 Aug 2024",
		Hints:    []string{"Date range: TO_DATE('05-AUG-2024','DD-MON-YYYY') to TO_DATE('05-AUG-2024','DD-MON-YYYY')"},
		Schema:   &SchemaContext{Text: "EMP(EMP_ID NUMBER, NAME VARCHAR2(100), JOIN_DATE DATE)"},
		DB:       "erp",
	})
	require.NoError(t, err)
	assert.False(t, gen.FromPlan)
	assert.Equal(t, "SELECT NAME FROM EMP WHERE JOIN_DATE > TO_DATE('05-AUG-2024','DD-MON-YYYY')", gen.SQL)

	prompt := client.LastPrompt()
	assert.Contains(t, prompt, "Schema:\nEMP(EMP_ID NUMBER")
	assert.Contains(t, prompt, "Hints:\n- Date range:")
	assert.True(t, strings.HasSuffix(prompt, "Question: who joined after 5 Aug 2024"))
}

func TestLocalSQLGenerator_TruncatedAnswerYieldsNoSQL(t *testing.T) {
	client := llm.NewStaticMockLLMClient("sqlcoder", "SELECT item_code, FROM items")
	local, _ := newTestGenerators(t, client, llm.NewMockLLMClient())

	gen, err := local.Generate(context.Background(), &GenerationRequest{Question: "item codes", DB: "erp"})
	require.NoError(t, err)
	assert.Empty(t, gen.SQL)
	assert.Equal(t, "SELECT item_code, FROM items", gen.Raw)
	assert.Equal(t, 20, gen.CompletionTokens)
}

func TestSQLGenerators_ClientErrorsAreWrapped(t *testing.T) {
	failing := llm.NewMockLLMClient()
	failing.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		return nil, llm.NewError(llm.ErrorTypeEndpoint, "connection refused", true, errors.New("dial tcp"))
	}
	local, api := newTestGenerators(t, failing, failing)

	for _, g := range []SQLGenerator{local, api} {
		gen, err := g.Generate(context.Background(), &GenerationRequest{Question: "anything", DB: "erp"})
		assert.Nil(t, gen)
		var llmErr *llm.Error
		assert.ErrorAs(t, err, &llmErr)
		assert.Contains(t, err.Error(), g.Role()+" generation")
	}
}

func TestAPISQLGenerator_ExtractsAndFilters(t *testing.T) {
	client := llm.NewStaticMockLLMClient("claude-sonnet-4-5",
		"Sure.\n```sql\nSELECT FLOOR_NAME, SUM(PRODUCTION_QTY) AS PRODUCTION_QTY FROM T_PROD GROUP BY FLOOR_NAME\n```")
	_, api := newTestGenerators(t, llm.NewMockLLMClient(), client)

	gen, err := api.Generate(context.Background(), &GenerationRequest{
		Question: scenarioA,
		Hints:    []string{"not for the API"},
		DB:       "erp",
	})
	require.NoError(t, err)
	assert.Equal(t, RoleAPI, gen.Role)
	assert.Equal(t, "claude-sonnet-4-5", api.Model())
	assert.Contains(t, gen.SQL, "WHERE UPPER(FLOOR_NAME) LIKE '%CAL%'")
	assert.NotContains(t, client.LastPrompt(), "not for the API")
}

func TestAPISQLGenerator_JSONIsNotAPlan(t *testing.T) {
	client := llm.NewStaticMockLLMClient("claude", `{"table": "T_PROD"}`)
	_, api := newTestGenerators(t, llm.NewMockLLMClient(), client)

	gen, err := api.Generate(context.Background(), &GenerationRequest{Question: "dhu", DB: "erp"})
	require.NoError(t, err)
	assert.Empty(t, gen.SQL)
	assert.False(t, gen.FromPlan)
}
