package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-agent/backend/internal/errs"
)

const salesCSV = `date,region,revenue,units
2024-01-01,north,1200.50,10
2024-01-02,south,900.25,8
2024-01-03,north,1500.00,12
2024-01-04,west,700.75,6
2024-01-05,south,1100.00,9
`

func newTestManager(now *time.Time) *Manager {
	return NewManager(ManagerConfig{
		SessionTTL:  30 * time.Minute,
		MaxSessions: 2,
		Now:         func() time.Time { return *now },
	})
}

func uploadSales(t *testing.T, m *Manager) *Session {
	t.Helper()
	session, err := m.CreateFromCSV(context.Background(), "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	return session
}

func TestCreateFromCSVBuildsProfile(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	profile := session.Profile
	assert.Equal(t, 5, profile.RowCount)
	assert.Equal(t, 4, profile.ColumnCount)
	assert.Equal(t, []string{"date", "region", "revenue", "units"}, profile.Columns)
	assert.Contains(t, profile.NumericColumns, "revenue")
	assert.Contains(t, profile.NumericColumns, "units")
	assert.Contains(t, profile.TemporalColumns, "date")
	assert.Contains(t, profile.CategoricalColumns, "region")
	assert.NotEmpty(t, profile.RecommendedQuestions)
	assert.Equal(t, "Give me an overview of this dataset and key metrics.", profile.RecommendedQuestions[0])
	assert.Len(t, profile.SampleRows, 5)
}

func TestCreateFromCSVRejectsUnsupportedExtension(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)

	_, err := m.CreateFromCSV(context.Background(), "report.xlsx", strings.NewReader(salesCSV))
	assert.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, err.Error(), ".csv")
}

func TestCreateFromCSVRejectsEmptyData(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)

	_, err := m.CreateFromCSV(context.Background(), "empty.csv", strings.NewReader("a,b,c\n"))
	assert.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestQueryAppliesRowCap(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	result, err := session.Query(context.Background(), "SELECT * FROM uploaded_data", 3)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 3)
	assert.Equal(t, []string{"date", "region", "revenue", "units"}, result.Columns)
}

func TestQueryRejectsWriteStatements(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	_, err := session.Query(context.Background(), "DELETE FROM uploaded_data", 10)
	assert.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	_, err := m.Get(session.ID)
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = m.Get(session.ID)
	assert.Error(t, err)
	assert.Equal(t, errs.KindResource, errs.KindOf(err))
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSessionCapEvictsLRU(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)

	first := uploadSales(t, m)
	now = now.Add(time.Minute)
	second := uploadSales(t, m)

	// Touch the first so the second becomes the LRU candidate.
	now = now.Add(time.Minute)
	_, err := m.Get(first.ID)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	third := uploadSales(t, m)

	_, err = m.Get(second.ID)
	assert.Equal(t, errs.KindResource, errs.KindOf(err))
	_, err = m.Get(first.ID)
	assert.NoError(t, err)
	_, err = m.Get(third.ID)
	assert.NoError(t, err)
}

func TestDeleteSession(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	require.NoError(t, m.Delete(session.ID))
	assert.Equal(t, errs.KindResource, errs.KindOf(m.Delete(session.ID)))
}

func TestArtifactRoundTrip(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	artifacts := []ProbeArtifact{
		{
			ProbeID:      "p2",
			Question:     "Revenue by region?",
			AnalysisType: "comparison",
			Rationale:    "group totals",
			SQL:          "SELECT region, SUM(revenue) AS revenue FROM uploaded_data GROUP BY region",
			RowCount:     3,
			ChartType:    "bar",
			XKey:         "region",
			YKey:         "revenue",
			LLMSample: map[string]interface{}{
				"columns":      []string{"region", "revenue"},
				"sample_rows":  []map[string]interface{}{{"region": "north", "revenue": 2700.5}},
				"chart_sample": []map[string]interface{}{{"region": "north", "revenue": 2700.5}},
			},
			Stats: map[string]interface{}{"column_count": 2},
		},
		{
			ProbeID:  "p1",
			Question: "Overall revenue trend?",
			SQL:      "SELECT date, revenue FROM uploaded_data ORDER BY date",
			RowCount: 5,
		},
		{ProbeID: "  "},
	}

	require.NoError(t, session.PersistArtifacts("run-1", "What drives revenue?", "find revenue drivers", artifacts))

	summaries, err := session.LoadArtifactSummaries("run-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "p1", summaries[0].ProbeID)
	assert.Equal(t, "bar", summaries[0].ChartHint.Type)
	assert.Equal(t, "p2", summaries[1].ProbeID)
	assert.Equal(t, ChartHint{Type: "bar", XKey: "region", YKey: "revenue"}, summaries[1].ChartHint)
	assert.Equal(t, []string{"region", "revenue"}, summaries[1].Columns)
	assert.Len(t, summaries[1].SampleRows, 1)

	// Persisting again under the same run id replaces prior rows.
	require.NoError(t, session.PersistArtifacts("run-1", "q", "g", artifacts[:1]))
	summaries, err = session.LoadArtifactSummaries("run-1")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestPersistArtifactsRequiresRunID(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	session := uploadSales(t, m)

	err := session.PersistArtifacts("  ", "q", "g", []ProbeArtifact{{ProbeID: "p1"}})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
