package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/analytics"
	"github.com/otherjamesbrown/calinsight/pkg/assistant"
)

// NewAskCommand creates the ask command.
func NewAskCommand(deps *Deps) *cobra.Command {
	var showTools bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask a question about meeting data in plain language",
		Long: `Ask the assistant a question about the stored meetings. The assistant
answers by calling read-only analytics tools (overview, departments, weekly
trends, top participants, efficiency) over the requested dates, the last 30
days by default.

Requires assistant.api_key (or OPENAI_API_KEY). Any OpenAI-compatible endpoint
can be used through assistant.base_url.`,
		Example: `  calinsight ask "How many hours did Engineering spend in meetings last month?"
  calinsight ask "Which week in March was busiest?" --show-tools`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), deps, strings.Join(args, " "), showTools)
		},
	}

	cmd.Flags().BoolVar(&showTools, "show-tools", false, "Print the tool calls the assistant made")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, deps *Deps, question string, showTools bool) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := assistant.OptionsFromConfig(cfg.Assistant)
	opts.Logger = deps.logger()
	opts.Now = deps.now
	a, err := assistant.New(analytics.NewService(st), opts)
	if err != nil {
		return err
	}

	answer, err := a.Ask(ctx, question, nil)
	if err != nil {
		return fmt.Errorf("asking assistant: %w", err)
	}
	return outputAnswer(out, cfg.OutputFormat, answer, showTools)
}

func outputAnswer(w io.Writer, format config.OutputFormat, answer *assistant.Answer, showTools bool) error {
	if ok, err := WriteStructured(w, format, answer); ok {
		return err
	}
	if showTools {
		for _, tc := range answer.ToolCalls {
			status := colorGreen + "ok" + colorReset
			if tc.Error != "" {
				status = colorRed + tc.Error + colorReset
			}
			fmt.Fprintf(w, "%s→ %s(%s)%s %s\n", colorYellow, tc.Name, tc.Arguments, colorReset, status)
		}
		if len(answer.ToolCalls) > 0 {
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, strings.TrimSpace(answer.Reply))
	return nil
}
