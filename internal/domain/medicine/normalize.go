package medicine

import "math"

// Normalize converts extraction candidates into a ScanResult. It never fails:
// malformed candidates degrade to the documented defaults and an empty
// candidate list yields an empty, non-nil medicine list.
func Normalize(candidates []RawCandidate, confidence RawNumber, rawText Field) ScanResult {
	medicines := make([]Medicine, 0, len(candidates))
	for i, c := range candidates {
		medicines = append(medicines, canonical(i+1, c))
	}

	text, _ := rawText.Get()
	return ScanResult{
		Medicines:  medicines,
		Confidence: ClampConfidence(confidence),
		RawText:    text,
	}
}

// NormalizeExtraction normalizes a full extraction envelope, carrying the
// optional prescriber and patient details through.
func NormalizeExtraction(x RawExtraction) ScanResult {
	res := Normalize(x.Medicines, x.Confidence, x.RawText)
	res.DoctorName = x.DoctorName.Or("")
	res.PatientName = x.PatientName.Or("")
	res.PrescriptionDate = x.PrescriptionDate.Or("")
	return res
}

// FromRecords rebuilds canonical medicines from stored records, assigning
// ids by position and re-applying defaults to blank fields.
func FromRecords(records []Record) []Medicine {
	candidates := make([]RawCandidate, len(records))
	for i, r := range records {
		candidates[i] = RawCandidate{
			Name:         Present(r.Name),
			Dosage:       Present(r.Dosage),
			Frequency:    Present(r.Frequency),
			Duration:     Present(r.Duration),
			Instructions: Present(r.Instructions),
		}
	}
	return Normalize(candidates, RawNumber{}, Field{}).Medicines
}

// ClampConfidence maps a raw confidence onto an integer in [0, 100].
// Absent or NaN values become 0.
func ClampConfidence(n RawNumber) int {
	v, ok := n.Get()
	if !ok || math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(100, v))
	return int(math.Round(v))
}

func canonical(id int, c RawCandidate) Medicine {
	return Medicine{
		ID:           id,
		Name:         c.Name.Or(DefaultName),
		Dosage:       c.Dosage.Or(DefaultDosage),
		Frequency:    c.Frequency.Or(DefaultFrequency),
		Duration:     c.Duration.Or(DefaultDuration),
		Instructions: c.Instructions.Or(DefaultInstructions),
	}
}
