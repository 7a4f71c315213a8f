package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medsnap/rxscan/internal/domain/reminder"
)

func newFrequencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frequency <text>",
		Short: "Show which reminder times a frequency maps to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			rule := reminder.MatchFrequency(text)
			times := make([]string, len(rule.Times))
			for i, c := range rule.Times {
				times[i] = c.String()
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", rule.Name, strings.Join(times, ", "))
			return err
		},
	}
}
