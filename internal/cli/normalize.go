package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file|->",
		Short: "Normalize a raw extraction envelope into a scan result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var raw medicine.RawExtraction
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse extraction: %w", err)
			}
			return printJSON(cmd, medicine.NormalizeExtraction(raw))
		},
	}
}
