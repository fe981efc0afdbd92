package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

// TestCaseWorkflow walks a case through the full clinical flow over HTTP:
// intake, uploads, differential, debate, and the closing summary.
func TestCaseWorkflow(t *testing.T) {
	id := createCase(t)

	// Intake: history and manual labs.
	res, body := doJSON(t, http.MethodPut, "/api/v1/cases/"+id.String()+"/history", map[string]string{
		"patient_history": "54M with three weeks of fever, night sweats, and a new murmur.",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set history: status %d body %s", res.StatusCode, body)
	}

	res, body = doJSON(t, http.MethodPut, "/api/v1/cases/"+id.String()+"/labs", map[string]interface{}{
		"lab_values": map[string]string{"Hgb": "10.9 g/dL", "WBC": "12.1 x10^9/L"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set labs: status %d body %s", res.StatusCode, body)
	}

	// Image upload feeds the analysis into the case.
	res, body = doMultipart(t, "/api/v1/cases/"+id.String()+"/image", "cxr.png", []byte("\x89PNG fake image"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attach image: status %d body %s", res.StatusCode, body)
	}
	var cf caseView
	decodeJSON(t, body, &cf)
	if cf.ImageAnalysis == nil || cf.ImageAnalysis.ImageType != "chest_xray" {
		t.Fatalf("image analysis not attached: %+v", cf.ImageAnalysis)
	}

	// Lab report upload merges extracted values into the lab map. The
	// extracted WBC wins over the manual entry.
	res, body = doMultipart(t, "/api/v1/cases/"+id.String()+"/labs-file", "cbc.pdf", []byte("%PDF-1.4 fake report"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attach lab report: status %d body %s", res.StatusCode, body)
	}
	decodeJSON(t, body, &cf)
	if cf.LabExtraction == nil {
		t.Fatal("lab extraction not attached")
	}
	if got := cf.LabValues["WBC"]; got != "14.2 x10^9/L (high)" {
		t.Errorf("extracted WBC = %q, want merged display value", got)
	}
	if got := cf.LabValues["Hgb"]; got != "10.9 g/dL" {
		t.Errorf("manual Hgb = %q, want untouched", got)
	}

	// Differential.
	res, body = doJSON(t, http.MethodPost, "/api/v1/cases/"+id.String()+"/differential", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run differential: status %d body %s", res.StatusCode, body)
	}
	decodeJSON(t, body, &cf)
	if len(cf.Differential) != 3 {
		t.Fatalf("differential has %d diagnoses, want 3", len(cf.Differential))
	}
	if cf.Differential[0].Name != "Infective endocarditis" {
		t.Errorf("top diagnosis = %q", cf.Differential[0].Name)
	}

	// One debate round. The backend's updated differential replaces the
	// current list and the old list is retained for comparison.
	res, body = doJSON(t, http.MethodPost, "/api/v1/cases/"+id.String()+"/debate", map[string]string{
		"challenge": "Why not lupus given the rash and arthralgia?",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("debate: status %d body %s", res.StatusCode, body)
	}
	decodeJSON(t, body, &cf)
	if len(cf.Rounds) != 1 {
		t.Fatalf("transcript has %d rounds, want 1", len(cf.Rounds))
	}
	round := cf.Rounds[0]
	if round.Pending || round.Failed {
		t.Fatalf("round not completed: %+v", round)
	}
	if round.Challenge != "Why not lupus given the rash and arthralgia?" {
		t.Errorf("round challenge = %q", round.Challenge)
	}
	if round.AIResponse == "" || round.SuggestedTest != "Blood cultures x3" {
		t.Errorf("round response incomplete: %+v", round)
	}
	if len(cf.Differential) != 2 || len(cf.PreviousDifferential) != 3 {
		t.Errorf("differential %d / previous %d, want 2 / 3",
			len(cf.Differential), len(cf.PreviousDifferential))
	}
	if cf.SessionID != "sess-int-1" {
		t.Errorf("session id = %q", cf.SessionID)
	}

	// Summary.
	res, body = doJSON(t, http.MethodPost, "/api/v1/cases/"+id.String()+"/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate summary: status %d body %s", res.StatusCode, body)
	}
	var report summaryView
	decodeJSON(t, body, &report)
	if report.FinalDiagnosis != "Infective endocarditis" || report.Confidence != "high" {
		t.Errorf("summary = %q / %q", report.FinalDiagnosis, report.Confidence)
	}
	if report.ConfidencePercent == nil || *report.ConfidencePercent != 82 {
		t.Errorf("confidence percent = %v", report.ConfidencePercent)
	}
	if len(report.RuledOut) != 2 {
		t.Fatalf("ruled out has %d entries, want 2", len(report.RuledOut))
	}
	if report.RuledOut[0].Name != "Systemic lupus erythematosus" || report.RuledOut[0].Reason != "ANA and complement normal" {
		t.Errorf("ruled out [0] = %+v", report.RuledOut[0])
	}
	if report.RuledOut[1].Name != "Adult-onset Still disease" || report.RuledOut[1].Reason == "" {
		t.Errorf("ruled out [1] = %+v, want default reason", report.RuledOut[1])
	}

	// The report is now readable and the case view carries it.
	res, body = doJSON(t, http.MethodGet, "/api/v1/cases/"+id.String()+"/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get summary: status %d body %s", res.StatusCode, body)
	}
	cf = getCase(t, id)
	if cf.Summary == nil || cf.Summary.FinalDiagnosis != "Infective endocarditis" {
		t.Errorf("case view summary = %+v", cf.Summary)
	}

	// Delete closes out the case.
	res, body = doJSON(t, http.MethodDelete, "/api/v1/cases/"+id.String(), nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete case: status %d body %s", res.StatusCode, body)
	}
	res, body = doJSON(t, http.MethodGet, "/api/v1/cases/"+id.String(), nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted case: status %d body %s", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error != "Case not found" {
		t.Errorf("error = %q", env.Error)
	}
}

// TestSummaryFiresOnce verifies a second generation request returns the
// stored report without another backend call.
func TestSummaryFiresOnce(t *testing.T) {
	id := caseWithDifferential(t)

	before := globalGW.Stub.callCount("/summary")

	res, first := doJSON(t, http.MethodPost, "/api/v1/cases/"+id.String()+"/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first summary: status %d body %s", res.StatusCode, first)
	}
	res, second := doJSON(t, http.MethodPost, "/api/v1/cases/"+id.String()+"/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second summary: status %d body %s", res.StatusCode, second)
	}

	if string(first) != string(second) {
		t.Errorf("second summary differs:\n%s\n%s", first, second)
	}
	if got := globalGW.Stub.callCount("/summary") - before; got != 1 {
		t.Errorf("backend summary calls = %d, want 1", got)
	}
}

// TestSummaryRequiresDifferential verifies the 409 guard on an empty case.
func TestSummaryRequiresDifferential(t *testing.T) {
	id := createCase(t)

	res, body := doJSON(t, http.MethodPost, "/api/v1/cases/"+id.String()+"/summary", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d body %s, want 409", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error != "No differential available" {
		t.Errorf("error = %q", env.Error)
	}
}

// TestCaseList pages through cases created over HTTP.
func TestCaseList(t *testing.T) {
	for i := 0; i < 3; i++ {
		createCase(t)
	}

	res, body := doJSON(t, http.MethodGet, "/api/v1/cases?limit=2&offset=0", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list cases: status %d body %s", res.StatusCode, body)
	}

	var page struct {
		Data []struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
		Total   int  `json:"total"`
		Limit   int  `json:"limit"`
		Offset  int  `json:"offset"`
		HasMore bool `json:"has_more"`
	}
	decodeJSON(t, body, &page)

	if page.Total < 3 {
		t.Errorf("total = %d, want at least 3", page.Total)
	}
	if len(page.Data) != 2 || page.Limit != 2 || !page.HasMore {
		t.Errorf("page = %d items, limit %d, has_more %v", len(page.Data), page.Limit, page.HasMore)
	}
	for i, item := range page.Data {
		if item.ID == uuid.Nil {
			t.Errorf("item %d has zero id", i)
		}
	}
}

// TestCaseNotFound checks the error envelope for an unknown but valid id.
func TestCaseNotFound(t *testing.T) {
	res, body := doJSON(t, http.MethodGet, "/api/v1/cases/"+uuid.NewString(), nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d body %s, want 404", res.StatusCode, body)
	}
	env := decodeError(t, body)
	if env.Error != "Case not found" {
		t.Errorf("error = %q", env.Error)
	}
}

// TestCaseInvalidID checks the envelope for a malformed id.
func TestCaseInvalidID(t *testing.T) {
	res, body := doJSON(t, http.MethodGet, "/api/v1/cases/not-a-uuid", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d body %s, want 400", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error != "Invalid case id" {
		t.Errorf("error = %q", env.Error)
	}
}
