package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/domain/reminder"
)

func newScheduleCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "schedule <file|->",
		Short: "Derive the reminder slots for a list of medicines",
		Long: "Reads either a JSON array of medicines or a scan result object with a " +
			"\"medicines\" field and prints the reminder slots for --date.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now()
			if date != "" {
				d, err := reminder.ParseDate(date)
				if err != nil {
					return err
				}
				day = d
			}

			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			candidates, err := parseCandidates(data)
			if err != nil {
				return err
			}

			meds := medicine.Normalize(candidates, medicine.RawNumber{}, medicine.Field{}).Medicines
			slots, err := reminder.BuildSlots(meds, day, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, slots)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Calendar date YYYY-MM-DD (default: today)")
	return cmd
}

// parseCandidates accepts a bare medicines array or an object carrying one.
// Fields are untrusted: non-string values fall back to the defaults.
func parseCandidates(data []byte) ([]medicine.RawCandidate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var candidates []medicine.RawCandidate
		if err := json.Unmarshal(trimmed, &candidates); err != nil {
			return nil, fmt.Errorf("parse medicines: %w", err)
		}
		return candidates, nil
	}

	var envelope medicine.RawExtraction
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("parse medicines: %w", err)
	}
	return envelope.Medicines, nil
}
