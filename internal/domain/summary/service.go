// Package summary closes out a diagnostic case: it posts the accumulated
// context to the AI backend once, parses the ruled-out list, and caches the
// resulting report on the case.
package summary

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sturgeon/sturgeon/internal/domain/casefile"
	"github.com/sturgeon/sturgeon/internal/platform/backend"
)

var (
	// ErrNoDifferential rejects summary generation for a case that never ran
	// a differential. There is nothing to summarize yet.
	ErrNoDifferential = errors.New("no differential to summarize")

	// ErrNotAvailable means no report has been generated for the case.
	ErrNotAvailable = errors.New("summary not available")
)

// defaultRuledOutReason fills in for backend entries that arrive without a
// "name: reason" split.
const defaultRuledOutReason = "Ruled out during the diagnostic debate"

// Service generates and serves case close-out reports.
type Service struct {
	cases  casefile.Repository
	client *backend.Client
	logger zerolog.Logger
}

func NewService(cases casefile.Repository, client *backend.Client, logger zerolog.Logger) *Service {
	return &Service{
		cases:  cases,
		client: client,
		logger: logger.With().Str("component", "summary").Logger(),
	}
}

// Generate produces the case report, calling the backend at most once per
// case. Repeat calls return the stored report without another backend hit.
func (s *Service) Generate(ctx context.Context, id uuid.UUID) (*casefile.SummaryReport, error) {
	release, err := s.cases.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cf, err := s.cases.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cf.Summary != nil {
		return cf.Summary, nil
	}
	if len(cf.Differential) == 0 {
		return nil, ErrNoDifferential
	}

	resp, err := s.client.Summary(ctx, backend.SummaryRequest{
		PatientHistory:    cf.PatientHistory,
		LabValues:         cf.LabValues,
		FinalDifferential: cf.Differential,
		DebateRounds:      cf.CompletedRounds(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("case_id", id.String()).Msg("summary call failed")
		return nil, err
	}

	report := buildReport(resp)
	updated, err := s.cases.Update(ctx, id, func(cf *casefile.CaseFile) error {
		cf.SetSummary(report)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_id", id.String()).
		Str("final_diagnosis", resp.FinalDiagnosis).
		Str("confidence", resp.Confidence).
		Int("ruled_out", len(report.RuledOut)).
		Msg("summary generated")
	return updated.Summary, nil
}

// Get returns the stored report, or ErrNotAvailable when none exists.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*casefile.SummaryReport, error) {
	cf, err := s.cases.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cf.Summary == nil {
		return nil, ErrNotAvailable
	}
	return cf.Summary, nil
}

func buildReport(resp *backend.SummaryResponse) *casefile.SummaryReport {
	ruled := make([]casefile.RuledOutEntry, 0, len(resp.RuledOut))
	for _, raw := range resp.RuledOut {
		ruled = append(ruled, ParseRuledOut(raw))
	}
	report := &casefile.SummaryReport{
		FinalDiagnosis:    resp.FinalDiagnosis,
		Confidence:        resp.Confidence,
		ConfidencePercent: resp.ConfidencePercent,
		ReasoningChain:    resp.ReasoningChain,
		RuledOut:          ruled,
		NextSteps:         resp.NextSteps,
		CreatedAt:         time.Now().UTC(),
	}
	if report.ReasoningChain == nil {
		report.ReasoningChain = []string{}
	}
	if report.NextSteps == nil {
		report.NextSteps = []string{}
	}
	return report
}

// ParseRuledOut splits a backend ruled-out entry on the first ": " into name
// and reason. Entries without the separator keep the full text as the name
// and get a fixed reason.
func ParseRuledOut(raw string) casefile.RuledOutEntry {
	name, reason, found := strings.Cut(raw, ": ")
	name = strings.TrimSpace(name)
	reason = strings.TrimSpace(reason)
	if !found || name == "" || reason == "" {
		return casefile.RuledOutEntry{
			Name:   strings.TrimSpace(raw),
			Reason: defaultRuledOutReason,
		}
	}
	return casefile.RuledOutEntry{Name: name, Reason: reason}
}
