package casefile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sturgeon/sturgeon/internal/platform/backend"
)

// Citation is a guideline reference with the link URL derived at ingestion.
// LinkURL is set only for http/https URLs; consumers must never render a
// link from any other scheme.
type Citation struct {
	Text    string `json:"text"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	LinkURL string `json:"link_url,omitempty"`
}

// CitationsFrom converts backend citations, deriving the safe link URL.
func CitationsFrom(list []backend.Citation) []Citation {
	if len(list) == 0 {
		return nil
	}
	out := make([]Citation, len(list))
	for i, c := range list {
		out[i] = Citation{
			Text:    c.Text,
			URL:     c.URL,
			Source:  c.Source,
			LinkURL: c.LinkURL(),
		}
	}
	return out
}

// DebateRound is one user-challenge/AI-response exchange. A round is Pending
// while its backend call is in flight and Failed when that call did not
// produce a response; failed rounds carry the error detail instead.
type DebateRound struct {
	Challenge     string     `json:"challenge"`
	AIResponse    string     `json:"ai_response,omitempty"`
	SuggestedTest string     `json:"suggested_test,omitempty"`
	Citations     []Citation `json:"citations,omitempty"`
	HasGuidelines bool       `json:"has_guidelines,omitempty"`
	Orchestrated  bool       `json:"orchestrated,omitempty"`
	Pending       bool       `json:"pending,omitempty"`
	Failed        bool       `json:"failed,omitempty"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// LabExtraction is the stored result of a lab report upload, with values
// flattened to display strings.
type LabExtraction struct {
	Values         map[string]string `json:"lab_values"`
	AbnormalValues []string          `json:"abnormal_values"`
	RawText        string            `json:"raw_text"`
}

// RuledOutEntry is one excluded diagnosis with the reason it was dropped.
type RuledOutEntry struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SummaryReport is the case close-out. It is computed at most once per case;
// repeat requests return the stored report.
type SummaryReport struct {
	FinalDiagnosis    string          `json:"final_diagnosis"`
	Confidence        string          `json:"confidence"`
	ConfidencePercent *int            `json:"confidence_percent,omitempty"`
	ReasoningChain    []string        `json:"reasoning_chain"`
	RuledOut          []RuledOutEntry `json:"ruled_out"`
	NextSteps         []string        `json:"next_steps"`
	CreatedAt         time.Time       `json:"created_at"`
}

// CaseFile is the aggregate root for one diagnostic session. All state is
// transient: the store bounds it by TTL and capacity, and nothing survives
// eviction.
type CaseFile struct {
	ID                   uuid.UUID                      `json:"id"`
	PatientHistory       string                         `json:"patient_history"`
	LabValues            map[string]string              `json:"lab_values"`
	Differential         []backend.Diagnosis            `json:"differential"`
	PreviousDifferential []backend.Diagnosis            `json:"previous_differential,omitempty"`
	Rounds               []DebateRound                  `json:"debate_rounds"`
	ImageAnalysis        *backend.ImageAnalysisResponse `json:"image_analysis,omitempty"`
	LabExtraction        *LabExtraction                 `json:"lab_extraction,omitempty"`
	Summary              *SummaryReport                 `json:"summary,omitempty"`
	SessionID            string                         `json:"session_id,omitempty"`
	CreatedAt            time.Time                      `json:"created_at"`
	UpdatedAt            time.Time                      `json:"updated_at"`
}

// New creates an empty case file with a fresh id.
func New() *CaseFile {
	now := time.Now().UTC()
	return &CaseFile{
		ID:           uuid.New(),
		LabValues:    make(map[string]string),
		Differential: []backend.Diagnosis{},
		Rounds:       []DebateRound{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *CaseFile) touch() {
	c.UpdatedAt = time.Now().UTC()
}

// SetHistory replaces the patient history text.
func (c *CaseFile) SetHistory(text string) {
	c.PatientHistory = text
	c.touch()
}

// SetLabs replaces the lab value map.
func (c *CaseFile) SetLabs(values map[string]string) {
	c.LabValues = make(map[string]string, len(values))
	for k, v := range values {
		c.LabValues[k] = v
	}
	c.touch()
}

// MergeLabs folds extracted values into the existing lab map. Extracted
// entries win on name collision.
func (c *CaseFile) MergeLabs(values map[string]string) {
	if c.LabValues == nil {
		c.LabValues = make(map[string]string, len(values))
	}
	for k, v := range values {
		c.LabValues[k] = v
	}
	c.touch()
}

// SetImageAnalysis attaches the backend's image analysis.
func (c *CaseFile) SetImageAnalysis(ia *backend.ImageAnalysisResponse) {
	c.ImageAnalysis = ia
	c.touch()
}

// SetLabExtraction stores the lab report extraction and merges its values.
func (c *CaseFile) SetLabExtraction(ex *LabExtraction) {
	c.LabExtraction = ex
	if ex != nil {
		c.MergeLabs(ex.Values)
		return
	}
	c.touch()
}

// SetDifferential replaces the diagnosis list, retaining the prior list for
// before/after comparison. An empty input leaves the current list untouched.
func (c *CaseFile) SetDifferential(dx []backend.Diagnosis) {
	if len(dx) == 0 {
		return
	}
	if len(c.Differential) > 0 {
		c.PreviousDifferential = c.Differential
	}
	c.Differential = dx
	c.touch()
}

// AppendRound adds a debate round to the ordered transcript.
func (c *CaseFile) AppendRound(r DebateRound) {
	c.Rounds = append(c.Rounds, r)
	c.touch()
}

// LastRound returns a pointer into the transcript for in-place completion
// of a pending round, or nil when there are no rounds.
func (c *CaseFile) LastRound() *DebateRound {
	if len(c.Rounds) == 0 {
		return nil
	}
	return &c.Rounds[len(c.Rounds)-1]
}

// DropLastRound removes and returns the trailing round. Retry uses it to
// unwind a failed exchange before resending the challenge.
func (c *CaseFile) DropLastRound() *DebateRound {
	if len(c.Rounds) == 0 {
		return nil
	}
	last := c.Rounds[len(c.Rounds)-1]
	c.Rounds = c.Rounds[:len(c.Rounds)-1]
	c.touch()
	return &last
}

// CompleteRound fills the trailing pending round with the backend response
// and applies its case-level side effects: a non-empty updated differential
// replaces the current list, and the backend session id is echoed back.
// Does nothing when the transcript has no pending round.
func (c *CaseFile) CompleteRound(resp *backend.DebateTurnResponse) {
	r := c.LastRound()
	if r == nil || !r.Pending {
		return
	}
	r.Pending = false
	r.AIResponse = resp.AIResponse
	r.SuggestedTest = resp.SuggestedTest
	r.Citations = CitationsFrom(resp.Citations)
	r.HasGuidelines = resp.HasGuidelines
	r.Orchestrated = resp.Orchestrated

	c.SetDifferential(resp.UpdatedDifferential)
	if resp.SessionID != "" {
		c.SessionID = resp.SessionID
	}
	c.touch()
}

// FailRound marks the trailing pending round as failed, recording the error
// detail in place of an AI response. Does nothing when the transcript has
// no pending round.
func (c *CaseFile) FailRound(detail string) {
	r := c.LastRound()
	if r == nil || !r.Pending {
		return
	}
	r.Pending = false
	r.Failed = true
	r.ErrorDetail = detail
	c.touch()
}

// SetSummary stores the case close-out report.
func (c *CaseFile) SetSummary(r *SummaryReport) {
	c.Summary = r
	c.touch()
}

// CompletedRounds returns the transcript in the backend's prior-rounds wire
// shape, skipping pending and failed rounds.
func (c *CaseFile) CompletedRounds() []backend.DebateRoundPayload {
	out := make([]backend.DebateRoundPayload, 0, len(c.Rounds))
	for _, r := range c.Rounds {
		if r.Pending || r.Failed {
			continue
		}
		out = append(out, backend.DebateRoundPayload{
			UserChallenge: r.Challenge,
			AIResponse:    r.AIResponse,
		})
	}
	return out
}

// ImageContext renders the attached image analysis as a single context
// block for the debate prompt, or "" when no image is attached.
func (c *CaseFile) ImageContext() string {
	ia := c.ImageAnalysis
	if ia == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Image type: %s", ia.ImageType)
	if ia.Modality != "" {
		fmt.Fprintf(&b, " (%s)", ia.Modality)
	}
	if len(ia.TriageFindings) > 0 {
		b.WriteString(". Triage findings: ")
		for i, f := range ia.TriageFindings {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%.2f)", f.Label, f.Score)
		}
	}
	if ia.TriageSummary != "" {
		fmt.Fprintf(&b, ". %s", ia.TriageSummary)
	}
	if ia.MedGemmaAnalysis != "" {
		fmt.Fprintf(&b, "\nModel analysis: %s", ia.MedGemmaAnalysis)
	}
	return b.String()
}

// Clone returns a deep copy so readers never alias store-held state.
func (c *CaseFile) Clone() *CaseFile {
	out := *c

	out.LabValues = make(map[string]string, len(c.LabValues))
	for k, v := range c.LabValues {
		out.LabValues[k] = v
	}

	out.Differential = cloneDiagnoses(c.Differential)
	out.PreviousDifferential = cloneDiagnoses(c.PreviousDifferential)

	out.Rounds = make([]DebateRound, len(c.Rounds))
	for i, r := range c.Rounds {
		cr := r
		cr.Citations = append([]Citation(nil), r.Citations...)
		out.Rounds[i] = cr
	}

	if c.ImageAnalysis != nil {
		ia := *c.ImageAnalysis
		ia.TriageFindings = append([]backend.ImageFinding(nil), c.ImageAnalysis.TriageFindings...)
		out.ImageAnalysis = &ia
	}

	if c.LabExtraction != nil {
		ex := LabExtraction{
			Values:         make(map[string]string, len(c.LabExtraction.Values)),
			AbnormalValues: append([]string(nil), c.LabExtraction.AbnormalValues...),
			RawText:        c.LabExtraction.RawText,
		}
		for k, v := range c.LabExtraction.Values {
			ex.Values[k] = v
		}
		out.LabExtraction = &ex
	}

	if c.Summary != nil {
		sr := *c.Summary
		sr.ReasoningChain = append([]string(nil), c.Summary.ReasoningChain...)
		sr.RuledOut = append([]RuledOutEntry(nil), c.Summary.RuledOut...)
		sr.NextSteps = append([]string(nil), c.Summary.NextSteps...)
		if c.Summary.ConfidencePercent != nil {
			pct := *c.Summary.ConfidencePercent
			sr.ConfidencePercent = &pct
		}
		out.Summary = &sr
	}

	return &out
}

func cloneDiagnoses(in []backend.Diagnosis) []backend.Diagnosis {
	if in == nil {
		return nil
	}
	out := make([]backend.Diagnosis, len(in))
	for i, d := range in {
		cd := d
		cd.SupportingEvidence = append([]string(nil), d.SupportingEvidence...)
		cd.AgainstEvidence = append([]string(nil), d.AgainstEvidence...)
		cd.SuggestedTests = append([]string(nil), d.SuggestedTests...)
		out[i] = cd
	}
	return out
}

// CaseSummary is the list-view projection of a case file.
type CaseSummary struct {
	ID             uuid.UUID `json:"id"`
	HasHistory     bool      `json:"has_history"`
	LabCount       int       `json:"lab_count"`
	DiagnosisCount int       `json:"diagnosis_count"`
	RoundCount     int       `json:"round_count"`
	HasImage       bool      `json:"has_image"`
	HasSummary     bool      `json:"has_summary"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summarize projects the case file for the listing endpoint.
func (c *CaseFile) Summarize() CaseSummary {
	return CaseSummary{
		ID:             c.ID,
		HasHistory:     strings.TrimSpace(c.PatientHistory) != "",
		LabCount:       len(c.LabValues),
		DiagnosisCount: len(c.Differential),
		RoundCount:     len(c.Rounds),
		HasImage:       c.ImageAnalysis != nil,
		HasSummary:     c.Summary != nil,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
