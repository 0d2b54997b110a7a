// Package assistant answers natural-language questions about meeting
// analytics through an OpenAI-compatible chat completions API. The model
// reaches the data only through read-only tools backed by pkg/analytics.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/analytics"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout bounds one chat completion request.
	DefaultTimeout = 60 * time.Second
	maxRetries     = 2
)

// ErrToolRounds is returned when the model keeps calling tools past the limit.
var ErrToolRounds = errors.New("assistant exceeded the tool call limit")

const systemPrompt = `You are a calendar insights analyst. You answer questions about an
organization's meetings: volume, duration, size, departments, trends and
efficiency. Use the provided tools to fetch numbers; never invent figures.
Dates are YYYY-MM-DD. When the user gives no range, the tools default to the
last 30 days. Keep answers short and concrete, and suggest one improvement
when the data shows a problem.`

// Queries is the analytics surface exposed to the model.
type Queries interface {
	Overview(ctx context.Context, f meetings.Filter) (analytics.Overview, error)
	DepartmentBreakdown(ctx context.Context, f meetings.Filter) ([]analytics.DepartmentStat, error)
	WeeklyTrends(ctx context.Context, f meetings.Filter) ([]analytics.WeekTrend, error)
	TopParticipants(ctx context.Context, f meetings.Filter, limit int) ([]analytics.ParticipantStat, error)
	Efficiency(ctx context.Context, f meetings.Filter) (analytics.Efficiency, error)
}

// Message is one turn of conversation history kept by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall records a tool the model invoked while answering.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Error     string `json:"error,omitempty"`
}

// Answer is the assistant's reply.
type Answer struct {
	Reply     string     `json:"reply"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Rounds    int        `json:"rounds"`
}

// Options configure an Assistant.
type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxToolRounds int
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        logging.Logger
	// Now anchors the default date range.
	Now func() time.Time
}

// OptionsFromConfig derives Options from the assistant configuration.
func OptionsFromConfig(cfg config.AssistantConfig) Options {
	return Options{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		MaxToolRounds: cfg.MaxToolRounds,
	}
}

// Assistant runs the tool-calling loop.
type Assistant struct {
	client  openaigo.Client
	model   string
	rounds  int
	queries Queries
	logger  logging.Logger
	now     func() time.Time
}

// New creates an Assistant. An API key is required.
func New(queries Queries, opts Options) (*Assistant, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: assistant.api_key is required", cierrors.ErrConfig)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = config.DefaultAssistantModel
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = config.DefaultAssistantRounds
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client := openaigo.NewClient(
		option.WithBaseURL(baseURL+"/"),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(maxRetries),
		option.WithRequestTimeout(opts.Timeout),
	)
	return &Assistant{
		client:  client,
		model:   model,
		rounds:  opts.MaxToolRounds,
		queries: queries,
		logger:  opts.Logger.With(logging.F("component", "assistant")),
		now:     opts.Now,
	}, nil
}

func historyMessages(history []Message) []openaigo.ChatCompletionMessageParamUnion {
	out := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case "assistant":
			out = append(out, openaigo.AssistantMessage(content))
		case "user":
			out = append(out, openaigo.UserMessage(content))
		}
	}
	return out
}

// Ask answers question, given prior turns of the conversation.
func (a *Assistant) Ask(ctx context.Context, question string, history []Message) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", cierrors.ErrValidation)
	}

	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, 2+len(history)+a.rounds*4)
	messages = append(messages, openaigo.SystemMessage(systemPrompt))
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, openaigo.UserMessage(question))

	answer := &Answer{}
	for i := 0; i <= a.rounds; i++ {
		answer.Rounds = i + 1
		a.logger.Debug("llm call", logging.F("attempt", i+1), logging.F("messages", len(messages)))
		resp, err := a.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
			Model:    openaigo.ChatModel(a.model),
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			answer.Reply = strings.TrimSpace(msg.Content)
			return answer, nil
		}

		messages = append(messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			if strings.TrimSpace(tc.Type) != "function" {
				b, _ := json.Marshal(map[string]string{"error": "unsupported tool type " + tc.Type})
				messages = append(messages, openaigo.ToolMessage(string(b), tc.ID))
				continue
			}
			call := tc.AsFunction()
			name := strings.TrimSpace(call.Function.Name)
			record := ToolCall{Name: name, Arguments: call.Function.Arguments}

			payload, err := a.runTool(ctx, name, call.Function.Arguments)
			if err != nil {
				record.Error = err.Error()
				payload = map[string]string{"error": err.Error()}
				a.logger.Warn("tool call failed", logging.F("tool", name), logging.Err(err))
			} else {
				a.logger.Debug("tool call", logging.F("tool", name), logging.F("args", call.Function.Arguments))
			}
			answer.ToolCalls = append(answer.ToolCalls, record)

			b, err := json.Marshal(payload)
			if err != nil {
				b, _ = json.Marshal(map[string]string{"error": err.Error()})
			}
			messages = append(messages, openaigo.ToolMessage(string(b), tc.ID))
		}
	}
	return nil, fmt.Errorf("%w (%d rounds)", ErrToolRounds, a.rounds)
}
