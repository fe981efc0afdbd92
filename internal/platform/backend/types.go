package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Diagnosis is one candidate in a differential, ranked by probability
// ("high", "medium", "low").
type Diagnosis struct {
	Name               string   `json:"name"`
	Probability        string   `json:"probability"`
	SupportingEvidence []string `json:"supporting_evidence"`
	AgainstEvidence    []string `json:"against_evidence"`
	SuggestedTests     []string `json:"suggested_tests"`
}

// Citation is a clinical guideline reference extracted from an AI response.
type Citation struct {
	Text   string `json:"text"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// LinkURL returns the citation URL when it is safe to render as a link.
// Only http and https schemes qualify; anything else yields "".
func (c Citation) LinkURL() string {
	if strings.HasPrefix(c.URL, "http://") || strings.HasPrefix(c.URL, "https://") {
		return c.URL
	}
	return ""
}

// DifferentialRequest asks the backend for a ranked differential.
type DifferentialRequest struct {
	PatientHistory string            `json:"patient_history"`
	LabValues      map[string]string `json:"lab_values"`
}

func (r *DifferentialRequest) normalize() {
	if r.LabValues == nil {
		r.LabValues = map[string]string{}
	}
}

// DifferentialResponse is the backend's differential result.
type DifferentialResponse struct {
	Diagnoses []Diagnosis `json:"diagnoses"`
}

// DebateRoundPayload is one prior exchange in the shape the backend's
// prompt formatter expects.
type DebateRoundPayload struct {
	UserChallenge string `json:"user_challenge"`
	AIResponse    string `json:"ai_response"`
}

// DebateTurnRequest carries the full case context for one debate cycle.
type DebateTurnRequest struct {
	PatientHistory      string               `json:"patient_history"`
	LabValues           map[string]string    `json:"lab_values"`
	CurrentDifferential []Diagnosis          `json:"current_differential"`
	PreviousRounds      []DebateRoundPayload `json:"previous_rounds"`
	UserChallenge       string               `json:"user_challenge"`
	SessionID           string               `json:"session_id,omitempty"`
	ImageContext        string               `json:"image_context,omitempty"`
}

func (r *DebateTurnRequest) normalize() {
	if r.LabValues == nil {
		r.LabValues = map[string]string{}
	}
	if r.CurrentDifferential == nil {
		r.CurrentDifferential = []Diagnosis{}
	}
	if r.PreviousRounds == nil {
		r.PreviousRounds = []DebateRoundPayload{}
	}
}

// DebateTurnResponse is the backend's answer to one debate cycle. An empty
// UpdatedDifferential means the backend chose not to revise the list.
type DebateTurnResponse struct {
	AIResponse          string      `json:"ai_response"`
	UpdatedDifferential []Diagnosis `json:"updated_differential"`
	SuggestedTest       string      `json:"suggested_test,omitempty"`
	SessionID           string      `json:"session_id,omitempty"`
	Orchestrated        bool        `json:"orchestrated"`
	Citations           []Citation  `json:"citations"`
	HasGuidelines       bool        `json:"has_guidelines"`
}

// SummaryRequest asks the backend to close out a case.
type SummaryRequest struct {
	PatientHistory    string               `json:"patient_history"`
	LabValues         map[string]string    `json:"lab_values"`
	FinalDifferential []Diagnosis          `json:"final_differential"`
	DebateRounds      []DebateRoundPayload `json:"debate_rounds"`
}

func (r *SummaryRequest) normalize() {
	if r.LabValues == nil {
		r.LabValues = map[string]string{}
	}
	if r.FinalDifferential == nil {
		r.FinalDifferential = []Diagnosis{}
	}
	if r.DebateRounds == nil {
		r.DebateRounds = []DebateRoundPayload{}
	}
}

// SummaryResponse is the backend's case summary. RuledOut entries are
// "Name: reason" strings; parsing them is the caller's concern.
type SummaryResponse struct {
	FinalDiagnosis    string   `json:"final_diagnosis"`
	Confidence        string   `json:"confidence"`
	ConfidencePercent *int     `json:"confidence_percent,omitempty"`
	ReasoningChain    []string `json:"reasoning_chain"`
	RuledOut          []string `json:"ruled_out"`
	NextSteps         []string `json:"next_steps"`
}

// LabValue is one extracted measurement. The extraction model emits rich
// objects; bare string or numeric values also appear and decode into Raw.
type LabValue struct {
	Value     interface{} `json:"value,omitempty"`
	Unit      string      `json:"unit,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Status    string      `json:"status,omitempty"`
	Raw       string      `json:"-"`
}

func (v *LabValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Raw = s
		return nil
	}

	type plain LabValue
	var p plain
	if err := json.Unmarshal(data, &p); err == nil {
		*v = LabValue(p)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		v.Raw = n.String()
		return nil
	}
	return fmt.Errorf("lab value: unsupported JSON shape %q", string(data))
}

// Display renders the measurement the way the backend's own formatter does:
// value, unit, and abnormality status on one line.
func (v LabValue) Display() string {
	if v.Raw != "" {
		return v.Raw
	}
	value := "N/A"
	if v.Value != nil {
		value = fmt.Sprintf("%v", v.Value)
	}
	status := v.Status
	if status == "" {
		status = "normal"
	}
	if v.Unit != "" {
		return fmt.Sprintf("%s %s (%s)", value, v.Unit, status)
	}
	return fmt.Sprintf("%s (%s)", value, status)
}

// ExtractLabsFileResponse is the backend's answer to a lab report upload.
type ExtractLabsFileResponse struct {
	LabValues      map[string]LabValue `json:"lab_values"`
	AbnormalValues []string            `json:"abnormal_values"`
	RawText        string              `json:"raw_text"`
}

// FlattenedValues renders each extracted measurement to a display string,
// the shape the case aggregate stores.
func (r *ExtractLabsFileResponse) FlattenedValues() map[string]string {
	out := make(map[string]string, len(r.LabValues))
	for name, v := range r.LabValues {
		out[name] = v.Display()
	}
	return out
}

// ImageFinding is one triage classification from the vision pipeline.
type ImageFinding struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ImageAnalysisResponse is the backend's answer to an image upload.
type ImageAnalysisResponse struct {
	ImageType           string         `json:"image_type"`
	ImageTypeConfidence float64        `json:"image_type_confidence"`
	Modality            string         `json:"modality"`
	TriageFindings      []ImageFinding `json:"triage_findings"`
	TriageSummary       string         `json:"triage_summary"`
	MedGemmaAnalysis    string         `json:"medgemma_analysis"`
}

// HealthStatus is the backend's health report.
type HealthStatus struct {
	Status             string `json:"status"`
	ModelLoaded        bool   `json:"model_loaded"`
	GeminiOrchestrator bool   `json:"gemini_orchestrator"`
	Mode               string `json:"mode"`
	ActiveSessions     int    `json:"active_sessions"`
}
