// Package cli implements the offline medscan commands: normalizing an
// extraction, deriving a reminder schedule and inspecting frequency rules.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the medscan command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medscan",
		Short:         "Prescription extraction and reminder tooling",
		Long:          "Offline tools for normalizing prescription extractions and deriving medicine reminder schedules.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newNormalizeCmd(), newScheduleCmd(), newFrequencyCmd())
	return root
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
