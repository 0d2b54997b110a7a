package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

// Tool names exposed to the model.
const (
	ToolOverview        = "get_overview"
	ToolDepartments     = "get_department_breakdown"
	ToolWeeklyTrends    = "get_weekly_trends"
	ToolTopParticipants = "get_top_participants"
	ToolEfficiency      = "get_efficiency"
)

// DefaultLookback is the range used when a tool call names no dates.
const DefaultLookback = 30 * 24 * time.Hour

func rangeProperties() map[string]any {
	return map[string]any{
		"start_date": map[string]any{"type": "string", "description": "First day, YYYY-MM-DD. Defaults to 30 days ago."},
		"end_date":   map[string]any{"type": "string", "description": "Last day (inclusive), YYYY-MM-DD. Defaults to today."},
		"department": map[string]any{"type": "string", "description": "Restrict to one department."},
	}
}

func tool(name, description string, props map[string]any) openaigo.ChatCompletionToolUnionParam {
	return openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        name,
		Description: param.NewOpt(description),
		Parameters: shared.FunctionParameters{
			"type":                 "object",
			"properties":           props,
			"additionalProperties": false,
		},
	})
}

func toolDefinitions() []openaigo.ChatCompletionToolUnionParam {
	participants := rangeProperties()
	participants["limit"] = map[string]any{"type": "integer", "description": "How many people to return. Defaults to 10."}
	return []openaigo.ChatCompletionToolUnionParam{
		tool(ToolOverview, "Totals for the range: meetings, hours, average duration and attendees, one-on-one share, acceptance rate.", rangeProperties()),
		tool(ToolDepartments, "Meetings, hours, average duration and one-on-ones per department.", rangeProperties()),
		tool(ToolWeeklyTrends, "Meetings, hours and average duration per ISO week.", rangeProperties()),
		tool(ToolTopParticipants, "The calendar owners with the most meetings.", participants),
		tool(ToolEfficiency, "Efficiency score out of 100 with the duration and size findings behind it.", rangeProperties()),
	}
}

type toolArgs struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Department string `json:"department"`
	Limit      int    `json:"limit"`
}

// filter converts the tool arguments into a meetings filter. The end date
// is inclusive.
func (t toolArgs) filter(now time.Time) (meetings.Filter, error) {
	var f meetings.Filter
	now = now.UTC()
	f.To = now
	f.From = now.Add(-DefaultLookback)

	if s := strings.TrimSpace(t.EndDate); s != "" {
		end, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
		if err != nil {
			return f, fmt.Errorf("end_date %q is not YYYY-MM-DD", s)
		}
		f.To = end.AddDate(0, 0, 1)
		f.From = f.To.Add(-DefaultLookback)
	}
	if s := strings.TrimSpace(t.StartDate); s != "" {
		start, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
		if err != nil {
			return f, fmt.Errorf("start_date %q is not YYYY-MM-DD", s)
		}
		f.From = start
	}
	if !f.To.After(f.From) {
		return f, fmt.Errorf("start_date must be on or before end_date")
	}
	if d := strings.TrimSpace(t.Department); d != "" {
		f.Departments = []string{d}
	}
	return f, nil
}

// runTool executes one tool call and returns its JSON-encodable result.
func (a *Assistant) runTool(ctx context.Context, name, rawArgs string) (any, error) {
	var args toolArgs
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	f, err := args.filter(a.now())
	if err != nil {
		return nil, err
	}

	switch name {
	case ToolOverview:
		return a.queries.Overview(ctx, f)
	case ToolDepartments:
		return a.queries.DepartmentBreakdown(ctx, f)
	case ToolWeeklyTrends:
		return a.queries.WeeklyTrends(ctx, f)
	case ToolTopParticipants:
		return a.queries.TopParticipants(ctx, f, args.Limit)
	case ToolEfficiency:
		return a.queries.Efficiency(ctx, f)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}
