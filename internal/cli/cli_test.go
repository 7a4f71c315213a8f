package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/domain/reminder"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNormalizeCmd(t *testing.T) {
	path := writeFile(t, `{"medicines":[{"name":" Amoxicillin ","dosage":null},"junk"],"confidence":"101","rawText":"Rx"}`)

	out, err := run(t, "", "normalize", path)
	require.NoError(t, err)

	var res medicine.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 100, res.Confidence)
	require.Len(t, res.Medicines, 2)
	assert.Equal(t, "Amoxicillin", res.Medicines[0].Name)
	assert.Equal(t, medicine.DefaultDosage, res.Medicines[0].Dosage)
	assert.Equal(t, medicine.DefaultName, res.Medicines[1].Name)
}

func TestNormalizeCmd_Stdin(t *testing.T) {
	out, err := run(t, `{"medicines":[]}`, "normalize", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"medicines": []`)
}

func TestNormalizeCmd_Errors(t *testing.T) {
	_, err := run(t, "", "normalize", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = run(t, `[1,2]`, "normalize", "-")
	assert.Error(t, err)
}

func TestScheduleCmd(t *testing.T) {
	meds := `[{"name":"Amoxicillin","dosage":"500mg","frequency":"Twice daily"},
	          {"name":"Metformin","dosage":"850mg","frequency":"at bedtime"}]`

	for _, input := range []string{meds, `{"medicines":` + meds + `}`} {
		out, err := run(t, input, "schedule", "--date", "2026-10-18", "-")
		require.NoError(t, err)

		var slots []reminder.Slot
		require.NoError(t, json.Unmarshal([]byte(out), &slots))
		require.Len(t, slots, 2)
		assert.Equal(t, reminder.SlotID("2026-10-18 9:00 AM"), slots[0].ID)
		assert.Equal(t, []string{"Amoxicillin 500mg"}, slots[0].Medicines)
		assert.Equal(t, "9:00 PM", slots[1].Time)
		assert.Equal(t, []string{"Amoxicillin 500mg", "Metformin 850mg"}, slots[1].Medicines)
	}
}

func TestScheduleCmd_UntrustedFields(t *testing.T) {
	input := `[{"name":"Warfarin","dosage":5,"frequency":"Once daily"},{"name":null,"frequency":["x"]}]`

	out, err := run(t, input, "schedule", "--date", "2026-10-18", "-")
	require.NoError(t, err)

	var slots []reminder.Slot
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	require.Len(t, slots, 1)
	assert.Equal(t, "9:00 AM", slots[0].Time)
	assert.Equal(t, []string{"Warfarin Not specified", "Unknown Medicine Not specified"}, slots[0].Medicines)
}

func TestScheduleCmd_RejectsInvalidJSON(t *testing.T) {
	_, err := run(t, `{"medicines":`, "schedule", "--date", "2026-10-18", "-")
	assert.ErrorContains(t, err, "parse medicines")
}

func TestScheduleCmd_BadDate(t *testing.T) {
	_, err := run(t, `[]`, "schedule", "--date", "tomorrow", "-")
	assert.ErrorIs(t, err, reminder.ErrInvalidDate)
}

func TestFrequencyCmd(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"frequency", "three", "times", "a", "day"}, "three-times: 8:00 AM, 2:00 PM, 8:00 PM\n"},
		{[]string{"frequency", "once in the morning"}, "morning: 8:00 AM\n"},
		{[]string{"frequency", "as needed"}, "default: 9:00 AM\n"},
	}
	for _, tt := range tests {
		out, err := run(t, "", tt.args...)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out)
	}
}
