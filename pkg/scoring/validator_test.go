package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAssessSQLValidity_ZeroCases(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"ellipsis", "SELECT a, b, ... FROM T"},
		{"trailing comma", "SELECT a, b FROM T,"},
		{"not select", "UPDATE T SET a = 1"},
		{"prose", "Here is the query you asked for"},
		{"missing from", "SELECT a, b"},
		{"from without table", "SELECT a FROM WHERE a = 1"},
		{"dangling comma before from", "SELECT item_code, FROM items"},
		{"dangling AS before from", "SELECT SUM(qty) AS FROM T_PROD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.0, AssessSQLValidity(tt.sql))
		})
	}
}

func TestAssessSQLValidity(t *testing.T) {
	assert.Equal(t, 1.0, AssessSQLValidity("SELECT FLOOR_NAME, SUM(PRODUCTION_QTY) AS PRODUCTION_QTY FROM T_PROD GROUP BY FLOOR_NAME"))
	assert.Equal(t, 1.0, AssessSQLValidity("WITH x AS (SELECT 1 AS n FROM DUAL) SELECT n FROM x;"))
	assert.Equal(t, 1.0, AssessSQLValidity("SELECT * FROM (SELECT a FROM T) WHERE ROWNUM = 1"))
	assert.Equal(t, 0.5, AssessSQLValidity("SELECT a FROM T WHERE (a = 1"))
	assert.InDelta(t, 0.7, AssessSQLValidity("SELECT a FROM T WHERE AND a = 1"), 1e-9)
}

func TestScore_BoundsAndWeights(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())
	inputs := []string{
		"",
		"DROP TABLE T_PROD",
		"SELECT * FROM T_PROD",
		"SELECT a FROM T WHERE x = 'it''s' -- comment",
		"SELECT TOP 5 * FROM `emp` LIMIT 10",
		"SELECT e.name, d.name, s.x, t.y FROM EMP e JOIN DEPT d ON 1=1 JOIN S s ON 1=1 JOIN T t ON 1=1 JOIN U u ON 1=1",
		strings.Repeat("SELECT a FROM T WHERE a IN (", 5),
		"SELECT FLOOR_NAME, SUM(PRODUCTION_QTY) AS PRODUCTION_QTY FROM T_PROD WHERE PROD_DATE BETWEEN TO_DATE('01-MAY-2024','DD-MON-YYYY') AND TO_DATE('31-MAY-2024','DD-MON-YYYY') GROUP BY FLOOR_NAME",
	}
	questions := []QueryContext{
		{},
		{Question: "CAL production vs defect for May 2024 by floor"},
		{Question: "list employees", MultiField: true, Schema: map[string][]string{"EMP": {"NAME"}}},
	}
	w := DefaultWeights()
	for _, sqlText := range inputs {
		for _, qc := range questions {
			m := v.Score(sqlText, qc)
			for name, s := range map[string]float64{
				"validity": m.SQLValidity, "schema": m.SchemaCompliance, "business": m.BusinessLogic,
				"performance": m.Performance, "technical": m.TechnicalCorrectness, "domain": m.DomainFit,
				"safety": m.Safety, "relevance": m.Relevance, "exec": m.ExecutionTime,
				"satisfaction": m.UserSatisfaction, "overall": m.OverallScore,
			} {
				assert.GreaterOrEqual(t, s, 0.0, "%s for %q", name, sqlText)
				assert.LessOrEqual(t, s, 1.0, "%s for %q", name, sqlText)
			}
			want := w.Validity*m.SQLValidity + w.SchemaCompliance*m.SchemaCompliance +
				w.BusinessLogic*m.BusinessLogic + w.Performance*m.Performance +
				w.Technical*m.TechnicalCorrectness + w.Domain*m.DomainFit +
				w.Safety*m.Safety + w.Relevance*m.Relevance
			assert.InDelta(t, want, m.OverallScore, 1e-9)
			assert.NotEmpty(t, m.Reasoning)
		}
	}
}

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	require.NoError(t, w.Validate())
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)

	w.Safety = 0.5
	assert.Error(t, w.Validate())
	assert.Error(t, Weights{Validity: 1.2, Safety: -0.2}.Validate())
}

func TestScore_PrefersAnsweringSQL(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())
	qc := QueryContext{Question: "CAL production vs defect for May 2024 by floor"}

	good := v.Score("SELECT FLOOR_NAME, SUM(PRODUCTION_QTY) AS PRODUCTION_QTY, SUM(DEFECT_QTY) AS DEFECT_QTY FROM T_PROD "+
		"WHERE UPPER(FLOOR_NAME) LIKE '%CAL%' AND PROD_DATE BETWEEN TO_DATE('01-MAY-2024','DD-MON-YYYY') AND TO_DATE('31-MAY-2024','DD-MON-YYYY') "+
		"GROUP BY FLOOR_NAME", qc)
	weak := v.Score("SELECT * FROM T_PROD", qc)

	assert.Greater(t, good.OverallScore, weak.OverallScore)
	assert.Greater(t, good.BusinessLogic, weak.BusinessLogic)
	assert.Greater(t, good.Performance, weak.Performance)
	assert.Contains(t, strings.Join(weak.Reasoning, "\n"), "no date filter")
}

func TestScore_SchemaCompliance(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())

	dual := v.Score("SELECT 1 FROM DUAL", QueryContext{Question: "name and designation of employee 7", MultiField: true})
	assert.Equal(t, 0.0, dual.SchemaCompliance)

	company := v.Score("SELECT SUM(PRODUCTION_QTY) FROM T_PROD WHERE COMPANY = 'CAL'", QueryContext{Question: "CAL production"})
	floor := v.Score("SELECT SUM(PRODUCTION_QTY) FROM T_PROD WHERE FLOOR_NAME LIKE '%CAL%'", QueryContext{Question: "CAL production"})
	assert.Less(t, company.SchemaCompliance, floor.SchemaCompliance)
	assert.Contains(t, strings.Join(company.Reasoning, "\n"), "FLOOR_NAME")

	schemaQC := QueryContext{Question: "employee names", Schema: map[string][]string{"EMP": {"EMP_ID", "NAME"}}}
	known := v.Score("SELECT e.NAME FROM EMP e", schemaQC)
	unknownCol := v.Score("SELECT e.FULL_NAME FROM EMP e", schemaQC)
	unknownTable := v.Score("SELECT NAME FROM EMPLOYEES", schemaQC)
	assert.Equal(t, 1.0, known.SchemaCompliance)
	assert.Less(t, unknownCol.SchemaCompliance, known.SchemaCompliance)
	assert.Less(t, unknownTable.SchemaCompliance, unknownCol.SchemaCompliance)
}

func TestScore_Safety(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())

	assert.Equal(t, 0.0, v.Score("SELECT 1 FROM DUAL; DELETE FROM T_PROD", QueryContext{}).Safety)
	assert.Equal(t, 0.0, v.Score("INSERT INTO T SELECT * FROM S", QueryContext{}).Safety)
	assert.Equal(t, 1.0, v.Score("SELECT NAME FROM EMP WHERE NOTE = 'North wing' FETCH FIRST 5 ROWS ONLY", QueryContext{}).Safety)

	injected := v.Score("SELECT NAME FROM EMP WHERE NAME = 'x'' OR ''1''=''1'", QueryContext{})
	assert.Less(t, injected.Safety, 1.0)

	unfiltered := v.Score("SELECT SUM(DHU) FROM T_PROD", QueryContext{})
	filtered := v.Score("SELECT SUM(DHU) FROM T_PROD WHERE PROD_DATE >= TRUNC(SYSDATE) - 7", QueryContext{})
	assert.Less(t, unfiltered.Safety, filtered.Safety)
}

func TestScore_TechnicalCorrectness(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())

	clean := v.Score("SELECT FLOOR_NAME, SUM(QTY) AS QTY FROM T_PROD WHERE PROD_DATE >= TRUNC(SYSDATE) GROUP BY FLOOR_NAME", QueryContext{})
	assert.Equal(t, 1.0, clean.TechnicalCorrectness)

	ungrouped := v.Score("SELECT FLOOR_NAME, SUM(QTY) AS QTY FROM T_PROD", QueryContext{})
	assert.InDelta(t, 0.7, ungrouped.TechnicalCorrectness, 1e-9)

	mysql := v.Score("SELECT NAME FROM EMP WHERE JOIN_DATE = '2024-05-01' LIMIT 10", QueryContext{})
	assert.InDelta(t, 0.4, mysql.TechnicalCorrectness, 1e-9)
}

func TestScore_DomainAndRelevance(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())
	qc := QueryContext{Question: "employee salary by department"}

	hr := v.Score("SELECT DEPARTMENT, SUM(SALARY) FROM EMP GROUP BY DEPARTMENT", qc)
	prod := v.Score("SELECT FLOOR_NAME, SUM(QTY) FROM T_PROD GROUP BY FLOOR_NAME", qc)

	assert.Equal(t, 1.0, hr.DomainFit)
	assert.InDelta(t, 0.4, prod.DomainFit, 1e-9)
	assert.Greater(t, hr.Relevance, prod.Relevance)

	none := v.Score("SELECT NAME FROM EMP", QueryContext{Question: "show it"})
	assert.Equal(t, 0.7, none.DomainFit)
	assert.Equal(t, 0.7, none.Relevance)
}

func TestScore_Deterministic(t *testing.T) {
	v := NewSQLValidator(zap.NewNop())
	qc := QueryContext{Question: "CAL production for May 2024 by floor"}
	sqlText := "SELECT FLOOR_NAME, SUM(PRODUCTION_QTY) FROM T_PROD GROUP BY FLOOR_NAME"
	assert.Equal(t, v.Score(sqlText, qc), v.Score(sqlText, qc))
}

func TestWithWeights(t *testing.T) {
	onlyValidity := Weights{Validity: 1}
	v := NewSQLValidator(zap.NewNop(), WithWeights(onlyValidity), WithLargeTables())
	m := v.Score("SELECT a FROM T WHERE (a = 1", QueryContext{})
	assert.Equal(t, 0.5, m.OverallScore)
}
