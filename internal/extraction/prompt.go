package extraction

import "github.com/google/generative-ai-go/genai"

const functionName = "extract_prescription_data"

const systemPrompt = `You are an expert medical prescription OCR and analysis system with deep knowledge of:
- Pharmaceutical drug names (brand names, generic names, and common abbreviations)
- Medical terminology and Latin abbreviations (e.g., BID=twice daily, TID=three times daily, QID=four times daily, PRN=as needed, PO=by mouth, HS=at bedtime, AC=before meals, PC=after meals)
- Standard dosage forms (tablets, capsules, syrup, injection, cream, ointment, drops, inhaler)
- Common prescription patterns and handwriting styles

Extract ALL medicine information from prescription images with high precision.`

const userPrompt = `Carefully analyze this prescription image and extract all medicine information.

1. Read all text in the image, including handwritten content.
2. Identify every medicine name; names may be abbreviated or handwritten.
3. Extract dosage (mg, ml, IU, etc.), frequency, duration and special instructions.
4. Expand abbreviations (OD/QD once daily, BID/BD twice daily, TID three times daily, QID four times daily, PRN as needed, HS at bedtime, AC before meals, PC after meals).
5. If duration is given as a quantity (e.g. "30 tablets"), estimate it from the frequency.
6. Capitalize medicine names properly and include warnings such as "take with food".

Call the extract_prescription_data function with all extracted information.`

func stringProp(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

// extractionTool declares the structured output the model must call.
var extractionTool = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        functionName,
		Description: "Extract structured prescription data from the analyzed image",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"medicines": {
					Type:        genai.TypeArray,
					Description: "List of all medicines found in the prescription",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"name":         stringProp("Full medicine name (brand or generic), properly capitalized"),
							"dosage":       stringProp(`Dosage strength (e.g., "500mg", "10ml", "5mg/ml")`),
							"frequency":    stringProp(`How often to take (expanded, e.g., "Twice daily" not "BID")`),
							"duration":     stringProp(`How long to take (e.g., "7 days", "Until finished")`),
							"instructions": stringProp(`Special instructions (e.g., "After meals")`),
							"form":         stringProp("Dosage form (tablet, capsule, syrup, cream, etc.)"),
							"route":        stringProp("Route of administration (oral, topical, injection, etc.)"),
						},
						Required: []string{"name", "dosage", "frequency", "duration", "instructions"},
					},
				},
				"confidence": {
					Type:        genai.TypeNumber,
					Description: "Confidence score 0-100: 90+ clear typed text, 70-89 clear handwriting, 50-69 partially legible, below 50 poor quality",
				},
				"rawText":          stringProp("Complete raw text extracted from the prescription image"),
				"doctorName":       stringProp("Name of the prescribing doctor if visible"),
				"patientName":      stringProp("Name of the patient if visible"),
				"prescriptionDate": stringProp("Date of the prescription if visible (YYYY-MM-DD)"),
			},
			Required: []string{"medicines", "confidence", "rawText"},
		},
	}},
}
