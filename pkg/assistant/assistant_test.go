package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/calinsight/pkg/analytics"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type fakeQueries struct {
	mu      sync.Mutex
	filters []meetings.Filter
	limit   int
}

func (q *fakeQueries) record(f meetings.Filter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filters = append(q.filters, f)
}

func (q *fakeQueries) Overview(_ context.Context, f meetings.Filter) (analytics.Overview, error) {
	q.record(f)
	return analytics.Overview{TotalMeetings: 42, TotalHours: 30.5}, nil
}

func (q *fakeQueries) DepartmentBreakdown(_ context.Context, f meetings.Filter) ([]analytics.DepartmentStat, error) {
	q.record(f)
	return []analytics.DepartmentStat{{Department: "Sales", Meetings: 7}}, nil
}

func (q *fakeQueries) WeeklyTrends(_ context.Context, f meetings.Filter) ([]analytics.WeekTrend, error) {
	q.record(f)
	return nil, nil
}

func (q *fakeQueries) TopParticipants(_ context.Context, f meetings.Filter, limit int) ([]analytics.ParticipantStat, error) {
	q.record(f)
	q.limit = limit
	return []analytics.ParticipantStat{{UserEmail: "ana@example.com", Meetings: 9}}, nil
}

func (q *fakeQueries) Efficiency(_ context.Context, f meetings.Filter) (analytics.Efficiency, error) {
	q.record(f)
	return analytics.Efficiency{Score: 85}, nil
}

func toolCallResponse(id, name, args string) string {
	argsJSON, _ := json.Marshal(args)
	return `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"test-model",
"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
"tool_calls":[{"id":"` + id + `","type":"function","function":{"name":"` + name + `","arguments":` + string(argsJSON) + `}}]}}]}`
}

func textResponse(text string) string {
	content, _ := json.Marshal(text)
	return `{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"test-model",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(content) + `}}]}`
}

// fakeOpenAI replays responses in order and keeps every request body.
type fakeOpenAI struct {
	t         *testing.T
	mu        sync.Mutex
	responses []string
	bodies    []map[string]any
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.True(f.t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "unexpected path %s", r.URL.Path)
	assert.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))

	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.bodies = append(f.bodies, body)

	i := len(f.bodies) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, f.responses[i])
}

func newTestAssistant(t *testing.T, fake *fakeOpenAI, q Queries, rounds int) *Assistant {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	a, err := New(q, Options{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		Model:         "test-model",
		MaxToolRounds: rounds,
		Timeout:       5 * time.Second,
		Now:           func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return a
}

func TestAsk_ToolLoop(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{
		toolCallResponse("call_1", ToolOverview, `{"department":"Sales","start_date":"2024-05-01","end_date":"2024-05-31"}`),
		textResponse("Sales held 42 meetings in May."),
	}}
	q := &fakeQueries{}
	a := newTestAssistant(t, fake, q, 4)

	ans, err := a.Ask(context.Background(), "How many meetings did Sales have in May?", []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "Hello! Ask me about meetings."},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sales held 42 meetings in May.", ans.Reply)
	assert.Equal(t, 2, ans.Rounds)
	require.Len(t, ans.ToolCalls, 1)
	assert.Equal(t, ToolOverview, ans.ToolCalls[0].Name)
	assert.Empty(t, ans.ToolCalls[0].Error)

	require.Len(t, q.filters, 1)
	f := q.filters[0]
	assert.Equal(t, []string{"Sales"}, f.Departments)
	assert.True(t, f.From.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, f.To.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	require.Len(t, fake.bodies, 2)
	assert.Equal(t, "test-model", fake.bodies[0]["model"])
	tools, _ := fake.bodies[0]["tools"].([]any)
	assert.Len(t, tools, 5)

	// system + 2 history + question, then assistant tool call + tool result.
	first, _ := fake.bodies[0]["messages"].([]any)
	assert.Len(t, first, 4)
	second, _ := fake.bodies[1]["messages"].([]any)
	require.Len(t, second, 6)
	toolMsg, _ := second[5].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	assert.Contains(t, toolMsg["content"], `"total_meetings":42`)
}

func TestAsk_ToolErrorsAreReturnedToModel(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{
		toolCallResponse("call_1", "drop_tables", `{}`),
		textResponse("Sorry, I can't do that."),
	}}
	a := newTestAssistant(t, fake, &fakeQueries{}, 4)

	ans, err := a.Ask(context.Background(), "delete everything", nil)
	require.NoError(t, err)
	require.Len(t, ans.ToolCalls, 1)
	assert.Contains(t, ans.ToolCalls[0].Error, "unknown tool")

	second, _ := fake.bodies[1]["messages"].([]any)
	toolMsg, _ := second[len(second)-1].(map[string]any)
	assert.Contains(t, toolMsg["content"], "unknown tool")
}

func TestAsk_RoundLimit(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{
		toolCallResponse("call_1", ToolEfficiency, `{}`),
	}}
	a := newTestAssistant(t, fake, &fakeQueries{}, 2)

	_, err := a.Ask(context.Background(), "loop forever", nil)
	require.ErrorIs(t, err, ErrToolRounds)
	assert.Len(t, fake.bodies, 3)
}

func TestAsk_Validation(t *testing.T) {
	a := newTestAssistant(t, &fakeOpenAI{responses: []string{textResponse("x")}}, &fakeQueries{}, 1)
	_, err := a.Ask(context.Background(), "   ", nil)
	require.Error(t, err)
	assert.True(t, cierrors.IsValidation(err))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(&fakeQueries{}, Options{})
	require.Error(t, err)
	assert.True(t, cierrors.IsConfig(err))
}

func TestRunTool(t *testing.T) {
	q := &fakeQueries{}
	a := &Assistant{queries: q, now: func() time.Time { return fixedNow }}
	ctx := context.Background()

	out, err := a.runTool(ctx, ToolTopParticipants, `{"limit":3}`)
	require.NoError(t, err)
	assert.Equal(t, 3, q.limit)
	assert.Len(t, out, 1)

	f := q.filters[0]
	assert.True(t, f.To.Equal(fixedNow))
	assert.True(t, f.From.Equal(fixedNow.Add(-DefaultLookback)))
	assert.Empty(t, f.Departments)

	_, err = a.runTool(ctx, ToolOverview, `{"start_date":"May 1"}`)
	assert.ErrorContains(t, err, "start_date")

	_, err = a.runTool(ctx, ToolOverview, `{"start_date":"2024-06-10","end_date":"2024-06-01"}`)
	assert.ErrorContains(t, err, "on or before")

	_, err = a.runTool(ctx, ToolOverview, `not json`)
	assert.ErrorContains(t, err, "invalid arguments")

	eff, err := a.runTool(ctx, ToolEfficiency, "")
	require.NoError(t, err)
	assert.Equal(t, 85, eff.(analytics.Efficiency).Score)
}

func TestToolArgs_EndDateOnly(t *testing.T) {
	f, err := toolArgs{EndDate: "2024-03-31"}.filter(fixedNow)
	require.NoError(t, err)
	assert.True(t, f.To.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, f.From.Equal(f.To.Add(-DefaultLookback)))
}
