package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "monthly_revenue_view", Slugify("Monthly Revenue View"))
	assert.Equal(t, "q1_churn_2024", Slugify("  Q1 Churn!! 2024 "))
	assert.Equal(t, "artifact", Slugify("???"))
	assert.Equal(t, "artifact", Slugify(""))
}

func TestExecuteSQLView(t *testing.T) {
	rt := NewRuntime("", "")
	result, err := rt.Execute(Action{
		Type:  TypeSQLView,
		Title: "Top Regions",
		Payload: map[string]interface{}{
			"sql": "SELECT region, SUM(revenue) FROM uploaded_data GROUP BY region",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "dry_run", result.Mode)
	assert.Equal(t, "sql", result.ArtifactType)
	assert.Equal(t,
		"CREATE OR REPLACE VIEW vw_top_regions AS\nSELECT region, SUM(revenue) FROM uploaded_data GROUP BY region;",
		result.Artifact)
}

func TestExecuteSQLViewDefaults(t *testing.T) {
	rt := NewRuntime("", "")
	result, err := rt.Execute(Action{
		Type:    TypeSQLView,
		Title:   "Empty",
		Payload: map[string]interface{}{"view_name": "vw_custom"},
	})
	require.NoError(t, err)
	assert.Equal(t, "CREATE OR REPLACE VIEW vw_custom AS\n-- Provide SELECT query here;", result.Artifact)
}

func TestExecuteDBTModel(t *testing.T) {
	rt := NewRuntime("", "")
	result, err := rt.Execute(Action{
		Type:  TypeDBTModel,
		Title: "Revenue Rollup",
		Payload: map[string]interface{}{
			"model_sql": "SELECT 1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "dbt_model", result.ArtifactType)
	assert.Equal(t, "models/revenue_rollup.sql", result.Path)
	assert.Equal(t, "SELECT 1", result.Artifact)
}

func TestExecuteJiraTicketDefaults(t *testing.T) {
	rt := NewRuntime("ANALYTICS", "")
	result, err := rt.Execute(Action{
		Type:        TypeJiraTicket,
		Title:       "Investigate churn spike",
		Description: "Churn doubled in March.",
		Payload:     map[string]interface{}{},
	})
	require.NoError(t, err)

	ticket, ok := result.Artifact.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jira_payload", result.ArtifactType)
	assert.Equal(t, "ANALYTICS", ticket["project"])
	assert.Equal(t, "Investigate churn spike", ticket["summary"])
	assert.Equal(t, "Churn doubled in March.", ticket["description"])
	assert.Equal(t, []string{"analytics", "auto-generated"}, ticket["labels"])
}

func TestExecuteJiraTicketPayloadOverrides(t *testing.T) {
	rt := NewRuntime("", "")
	result, err := rt.Execute(Action{
		Type:        TypeJiraTicket,
		Title:       "Title",
		Description: "Desc",
		Payload: map[string]interface{}{
			"project": "OPS",
			"summary": "Custom summary",
			"labels":  []interface{}{"urgent"},
		},
	})
	require.NoError(t, err)

	ticket := result.Artifact.(map[string]interface{})
	assert.Equal(t, "OPS", ticket["project"])
	assert.Equal(t, "Custom summary", ticket["summary"])
	assert.Equal(t, []string{"urgent"}, ticket["labels"])
}

func TestExecuteSlackSummary(t *testing.T) {
	rt := NewRuntime("", "#insights")
	result, err := rt.Execute(Action{
		Type:        TypeSlackSummary,
		Title:       "Weekly recap",
		Description: "Revenue up 12%.",
		Payload:     map[string]interface{}{},
	})
	require.NoError(t, err)

	message, ok := result.Artifact.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "slack_message", result.ArtifactType)
	assert.Equal(t, "#insights", message["channel"])
	assert.Equal(t, "*Weekly recap*\nRevenue up 12%.", message["message"])
}

func TestExecuteUnsupportedType(t *testing.T) {
	rt := NewRuntime("", "")
	_, err := rt.Execute(Action{Type: "email_blast", Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email_blast")
}
