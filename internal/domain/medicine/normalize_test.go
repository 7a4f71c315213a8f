package medicine

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAssignsSequentialIDs(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			candidates := make([]RawCandidate, n)
			for i := range candidates {
				candidates[i] = RawCandidate{Name: Present(fmt.Sprintf("Drug %d", i))}
			}

			res := Normalize(candidates, Number(50), Present("text"))

			require.Len(t, res.Medicines, n)
			for i, m := range res.Medicines {
				assert.Equal(t, i+1, m.ID)
				assert.Equal(t, fmt.Sprintf("Drug %d", i), m.Name)
				assertPopulated(t, m)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	tests := []struct {
		name      string
		candidate RawCandidate
		want      Medicine
	}{
		{
			name:      "all absent",
			candidate: RawCandidate{},
			want: Medicine{ID: 1, Name: DefaultName, Dosage: DefaultDosage, Frequency: DefaultFrequency,
				Duration: DefaultDuration, Instructions: DefaultInstructions},
		},
		{
			name: "blank after trimming",
			candidate: RawCandidate{
				Name: Present("   "), Dosage: Present(""), Frequency: Present("\t"),
				Duration: Present("\n"), Instructions: Present(" "),
			},
			want: Medicine{ID: 1, Name: DefaultName, Dosage: DefaultDosage, Frequency: DefaultFrequency,
				Duration: DefaultDuration, Instructions: DefaultInstructions},
		},
		{
			name: "partial",
			candidate: RawCandidate{
				Name: Present("Amoxicillin"), Dosage: Present("500mg"), Frequency: Present("Twice daily"),
			},
			want: Medicine{ID: 1, Name: "Amoxicillin", Dosage: "500mg", Frequency: "Twice daily",
				Duration: DefaultDuration, Instructions: DefaultInstructions},
		},
		{
			name: "surrounding whitespace trimmed",
			candidate: RawCandidate{
				Name: Present("  Paracetamol "), Dosage: Present("650mg"), Frequency: Present("At night"),
				Duration: Present("5 days"), Instructions: Present("After meals"),
			},
			want: Medicine{ID: 1, Name: "Paracetamol", Dosage: "650mg", Frequency: "At night",
				Duration: "5 days", Instructions: "After meals"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize([]RawCandidate{tt.candidate}, RawNumber{}, Field{})
			require.Len(t, res.Medicines, 1)
			assert.Equal(t, tt.want, res.Medicines[0])
		})
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`-5`, 0},
		{`150`, 100},
		{`"abc"`, 0},
		{`null`, 0},
		{`73`, 73},
		{`"88"`, 88},
		{`true`, 0},
		{`72.6`, 73},
		{`1e400`, 100},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var n RawNumber
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &n))
			assert.Equal(t, tt.want, ClampConfidence(n))
		})
	}

	assert.Equal(t, 0, ClampConfidence(RawNumber{}), "absent")
}

func TestNormalizeEmptyExtraction(t *testing.T) {
	res := Normalize(nil, RawNumber{}, Field{})

	assert.NotNil(t, res.Medicines)
	assert.Empty(t, res.Medicines)
	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, "", res.RawText)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"medicines":[],"confidence":0,"rawText":""}`, string(out))
}

func TestRawExtractionDecodesMalformedInput(t *testing.T) {
	payload := `{
		"medicines": [
			{"name": "Amoxicillin", "dosage": 500, "frequency": null, "duration": ["7 days"]},
			"Ibuprofen 400mg",
			null,
			{"name": "", "instructions": "With food", "form": "tablet"}
		],
		"confidence": "abc",
		"rawText": "Rx: Amoxicillin",
		"doctorName": "Dr. Rao",
		"patientName": 42
	}`

	var x RawExtraction
	require.NoError(t, json.Unmarshal([]byte(payload), &x))
	res := NormalizeExtraction(x)

	require.Len(t, res.Medicines, 4)
	assert.Equal(t, Medicine{ID: 1, Name: "Amoxicillin", Dosage: DefaultDosage, Frequency: DefaultFrequency,
		Duration: DefaultDuration, Instructions: DefaultInstructions}, res.Medicines[0])
	assert.Equal(t, DefaultName, res.Medicines[1].Name)
	assert.Equal(t, DefaultName, res.Medicines[2].Name)
	assert.Equal(t, "With food", res.Medicines[3].Instructions)
	assert.Equal(t, DefaultName, res.Medicines[3].Name)
	for _, m := range res.Medicines {
		assertPopulated(t, m)
	}

	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, "Rx: Amoxicillin", res.RawText)
	assert.Equal(t, "Dr. Rao", res.DoctorName)
	assert.Empty(t, res.PatientName)
}

func TestRawExtractionMedicinesNotArray(t *testing.T) {
	var x RawExtraction
	require.NoError(t, json.Unmarshal([]byte(`{"medicines": {"name": "x"}, "confidence": 91}`), &x))

	res := NormalizeExtraction(x)
	assert.Empty(t, res.Medicines)
	assert.Equal(t, 91, res.Confidence)
}

func TestRawExtractionRejectsNonObject(t *testing.T) {
	var x RawExtraction
	assert.Error(t, json.Unmarshal([]byte(`"just text"`), &x))
}

func TestFromRecordsRederivesIDs(t *testing.T) {
	records := []Record{
		{Name: "Metformin", Dosage: "500mg", Frequency: "Twice daily", Duration: "30 days", Instructions: "With meals"},
		{Name: "Atorvastatin", Dosage: "", Frequency: "At bedtime"},
	}

	meds := FromRecords(records)

	require.Len(t, meds, 2)
	assert.Equal(t, 1, meds[0].ID)
	assert.Equal(t, 2, meds[1].ID)
	assert.Equal(t, DefaultDosage, meds[1].Dosage)
	assert.Equal(t, records[0], meds[0].Record())
}

func TestMedicineLabel(t *testing.T) {
	m := Medicine{Name: "Amoxicillin", Dosage: "500mg"}
	assert.Equal(t, "Amoxicillin 500mg", m.Label())
}

func assertPopulated(t *testing.T, m Medicine) {
	t.Helper()
	assert.Positive(t, m.ID)
	for _, v := range []string{m.Name, m.Dosage, m.Frequency, m.Duration, m.Instructions} {
		assert.NotEmpty(t, strings.TrimSpace(v), "medicine %d has an empty field", m.ID)
	}
}
