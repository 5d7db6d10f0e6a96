package actions

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/metrics"
)

// Supported action types. Execution is always a dry run: the runtime renders
// the artifact a human would ship, it never touches external systems.
const (
	TypeSQLView      = "sql_view"
	TypeDBTModel     = "dbt_model"
	TypeJiraTicket   = "jira_ticket"
	TypeSlackSummary = "slack_summary"
)

const (
	defaultJiraProject  = "DATA"
	defaultSlackChannel = "#data-alerts"
)

// Action is a drafted follow-up produced by the oracle or submitted directly
// by a caller.
type Action struct {
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Payload     map[string]interface{} `json:"payload"`
}

// ExecutionResult carries the rendered artifact for one action.
type ExecutionResult struct {
	Mode         string      `json:"mode"`
	ArtifactType string      `json:"artifact_type"`
	Path         string      `json:"path,omitempty"`
	Artifact     interface{} `json:"artifact"`
}

// Runtime renders drafted actions into reviewable artifacts.
type Runtime struct {
	jiraProject  string
	slackChannel string
}

// NewRuntime builds an action runtime. Empty defaults fall back to the
// built-in project and channel.
func NewRuntime(jiraProject, slackChannel string) *Runtime {
	if jiraProject == "" {
		jiraProject = defaultJiraProject
	}
	if slackChannel == "" {
		slackChannel = defaultSlackChannel
	}
	return &Runtime{jiraProject: jiraProject, slackChannel: slackChannel}
}

// Execute renders the artifact for a single action in dry-run mode.
func (r *Runtime) Execute(action Action) (*ExecutionResult, error) {
	switch action.Type {
	case TypeSQLView:
		viewName := payloadString(action.Payload, "view_name")
		if viewName == "" {
			viewName = "vw_" + Slugify(action.Title)
		}
		sqlQuery := payloadString(action.Payload, "sql", "query")
		if sqlQuery == "" {
			sqlQuery = "-- Provide SELECT query here"
		}
		statement := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS\n%s;", viewName, sqlQuery)
		metrics.ActionsDrafted.WithLabelValues(action.Type).Inc()
		return &ExecutionResult{Mode: "dry_run", ArtifactType: "sql", Artifact: statement}, nil

	case TypeDBTModel:
		modelName := payloadString(action.Payload, "model_name")
		if modelName == "" {
			modelName = Slugify(action.Title)
		}
		modelSQL := payloadString(action.Payload, "sql", "model_sql")
		if modelSQL == "" {
			modelSQL = "-- dbt model SQL"
		}
		metrics.ActionsDrafted.WithLabelValues(action.Type).Inc()
		return &ExecutionResult{
			Mode:         "dry_run",
			ArtifactType: "dbt_model",
			Path:         fmt.Sprintf("models/%s.sql", modelName),
			Artifact:     modelSQL,
		}, nil

	case TypeJiraTicket:
		project := payloadString(action.Payload, "project")
		if project == "" {
			project = r.jiraProject
		}
		summary := payloadString(action.Payload, "summary")
		if summary == "" {
			summary = action.Title
		}
		description := payloadString(action.Payload, "description")
		if description == "" {
			description = action.Description
		}
		labels := payloadStrings(action.Payload, "labels")
		if labels == nil {
			labels = []string{"analytics", "auto-generated"}
		}
		metrics.ActionsDrafted.WithLabelValues(action.Type).Inc()
		return &ExecutionResult{
			Mode:         "dry_run",
			ArtifactType: "jira_payload",
			Artifact: map[string]interface{}{
				"project":     project,
				"summary":     summary,
				"description": description,
				"labels":      labels,
			},
		}, nil

	case TypeSlackSummary:
		message := payloadString(action.Payload, "message")
		if message == "" {
			message = fmt.Sprintf("*%s*\n%s", action.Title, action.Description)
		}
		channel := payloadString(action.Payload, "channel")
		if channel == "" {
			channel = r.slackChannel
		}
		metrics.ActionsDrafted.WithLabelValues(action.Type).Inc()
		return &ExecutionResult{
			Mode:         "dry_run",
			ArtifactType: "slack_message",
			Artifact: map[string]interface{}{
				"channel": channel,
				"message": message,
			},
		}, nil
	}

	return nil, errs.Validation("unsupported action type %q", action.Type)
}

// Slugify lowercases the title and replaces every non-alphanumeric run with a
// single underscore. An empty result falls back to "artifact".
func Slugify(value string) string {
	var builder strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(unicode.ToLower(r))
		} else {
			builder.WriteRune('_')
		}
	}

	parts := make([]string, 0)
	for _, part := range strings.Split(builder.String(), "_") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	slug := strings.Join(parts, "_")
	if slug == "" {
		return "artifact"
	}
	return slug
}

func payloadString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if raw, ok := payload[key]; ok {
			if value, ok := raw.(string); ok && strings.TrimSpace(value) != "" {
				return value
			}
		}
	}
	return ""
}

func payloadStrings(payload map[string]interface{}, key string) []string {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	switch typed := raw.(type) {
	case []string:
		return typed
	case []interface{}:
		values := make([]string, 0, len(typed))
		for _, item := range typed {
			if value, ok := item.(string); ok {
				values = append(values, value)
			}
		}
		return values
	}
	return nil
}
