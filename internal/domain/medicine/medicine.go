// Package medicine turns untrusted OCR/AI extraction output into canonical
// medicine records.
package medicine

import (
	"bytes"
	"encoding/json"
)

// Defaults applied when a candidate field is missing or blank.
const (
	DefaultName         = "Unknown Medicine"
	DefaultDosage       = "Not specified"
	DefaultFrequency    = "As directed"
	DefaultDuration     = "As prescribed"
	DefaultInstructions = "Follow doctor's instructions"
)

// RawCandidate is one medicine-like record as produced by the extraction
// service. Any field may be absent.
type RawCandidate struct {
	Name         Field `json:"name"`
	Dosage       Field `json:"dosage"`
	Frequency    Field `json:"frequency"`
	Duration     Field `json:"duration"`
	Instructions Field `json:"instructions"`
	Form         Field `json:"form"`
	Route        Field `json:"route"`
}

// UnmarshalJSON decodes a candidate. Values that are not JSON objects decode
// as a candidate with every field absent.
func (c *RawCandidate) UnmarshalJSON(data []byte) error {
	type plain RawCandidate
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*c = RawCandidate{}
		return nil
	}
	*c = RawCandidate(p)
	return nil
}

// RawExtraction is the envelope returned by the extraction service.
type RawExtraction struct {
	Medicines        []RawCandidate `json:"medicines"`
	Confidence       RawNumber      `json:"confidence"`
	RawText          Field          `json:"rawText"`
	DoctorName       Field          `json:"doctorName"`
	PatientName      Field          `json:"patientName"`
	PrescriptionDate Field          `json:"prescriptionDate"`
}

// UnmarshalJSON requires a JSON object at the top level. A medicines value
// that is not an array decodes as an empty list.
func (x *RawExtraction) UnmarshalJSON(data []byte) error {
	var env struct {
		Medicines        json.RawMessage `json:"medicines"`
		Confidence       RawNumber       `json:"confidence"`
		RawText          Field           `json:"rawText"`
		DoctorName       Field           `json:"doctorName"`
		PatientName      Field           `json:"patientName"`
		PrescriptionDate Field           `json:"prescriptionDate"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var candidates []RawCandidate
	if m := bytes.TrimSpace(env.Medicines); len(m) > 0 && m[0] == '[' {
		if err := json.Unmarshal(m, &candidates); err != nil {
			candidates = nil
		}
	}

	*x = RawExtraction{
		Medicines:        candidates,
		Confidence:       env.Confidence,
		RawText:          env.RawText,
		DoctorName:       env.DoctorName,
		PatientName:      env.PatientName,
		PrescriptionDate: env.PrescriptionDate,
	}
	return nil
}

// Medicine is a canonical medicine record. Every string field is non-empty.
type Medicine struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

// Label is the "{name} {dosage}" display string used by reminders.
func (m Medicine) Label() string {
	return m.Name + " " + m.Dosage
}

// Record returns the persisted shape of the medicine (no id).
func (m Medicine) Record() Record {
	return Record{
		Name:         m.Name,
		Dosage:       m.Dosage,
		Frequency:    m.Frequency,
		Duration:     m.Duration,
		Instructions: m.Instructions,
	}
}

// Record is the storage shape of a medicine. Ids are scan-local and are
// re-derived from position on read.
type Record struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

// ScanResult is the normalized outcome of one prescription scan.
type ScanResult struct {
	Medicines        []Medicine `json:"medicines"`
	Confidence       int        `json:"confidence"`
	RawText          string     `json:"rawText"`
	DoctorName       string     `json:"doctorName,omitempty"`
	PatientName      string     `json:"patientName,omitempty"`
	PrescriptionDate string     `json:"prescriptionDate,omitempty"`
}

// Records returns the storage shape of every medicine, in order.
func (r ScanResult) Records() []Record {
	out := make([]Record, len(r.Medicines))
	for i, m := range r.Medicines {
		out[i] = m.Record()
	}
	return out
}
