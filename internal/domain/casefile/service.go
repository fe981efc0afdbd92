package casefile

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sturgeon/sturgeon/internal/platform/backend"
	"github.com/sturgeon/sturgeon/internal/platform/middleware"
	"github.com/sturgeon/sturgeon/internal/platform/upload"
)

// ErrEmptyHistory rejects a differential run before any patient history has
// been recorded.
var ErrEmptyHistory = errors.New("patient history is empty")

// Free-text inputs are capped before storage or backend forwarding.
const (
	maxHistoryLen  = 10000
	maxLabKeyLen   = 200
	maxLabValueLen = 500
)

// Service owns the case lifecycle and the backend-driven enrichment
// operations (differential, image analysis, lab extraction).
type Service struct {
	repo    Repository
	backend *backend.Client
	logger  zerolog.Logger
}

func NewService(repo Repository, client *backend.Client, logger zerolog.Logger) *Service {
	return &Service{repo: repo, backend: client, logger: logger}
}

// Repo exposes the store to sibling services that drive their own cycles.
func (s *Service) Repo() Repository { return s.repo }

// Backend exposes the shared backend client.
func (s *Service) Backend() *backend.Client { return s.backend }

func (s *Service) Create(ctx context.Context) (*CaseFile, error) {
	cf := New()
	if err := s.repo.Create(ctx, cf); err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", cf.ID.String()).Msg("case created")
	return cf, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*CaseFile, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]CaseSummary, int, error) {
	files, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	summaries := make([]CaseSummary, len(files))
	for i, cf := range files {
		summaries[i] = cf.Summarize()
	}
	return summaries, total, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("case_id", id.String()).Msg("case deleted")
	return nil
}

// SetHistory replaces the patient history after sanitization. An empty
// result is allowed; it clears the history.
func (s *Service) SetHistory(ctx context.Context, id uuid.UUID, text string) (*CaseFile, error) {
	text = middleware.SanitizeText(text, maxHistoryLen)
	return s.repo.Update(ctx, id, func(cf *CaseFile) error {
		cf.SetHistory(text)
		return nil
	})
}

// SetLabs replaces the lab value map after sanitizing names and values.
// Entries whose name sanitizes to nothing are dropped.
func (s *Service) SetLabs(ctx context.Context, id uuid.UUID, values map[string]string) (*CaseFile, error) {
	clean := sanitizeLabs(values)
	return s.repo.Update(ctx, id, func(cf *CaseFile) error {
		cf.SetLabs(clean)
		return nil
	})
}

// RunDifferential posts the case context to the backend and stores the
// returned diagnosis list. The whole read-call-write cycle holds the
// per-case operation lock.
func (s *Service) RunDifferential(ctx context.Context, id uuid.UUID) (*CaseFile, error) {
	release, err := s.repo.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cf, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cf.PatientHistory) == "" {
		return nil, ErrEmptyHistory
	}

	resp, err := s.backend.Differential(ctx, backend.DifferentialRequest{
		PatientHistory: cf.PatientHistory,
		LabValues:      cf.LabValues,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_id", id.String()).
		Int("diagnoses", len(resp.Diagnoses)).
		Msg("differential generated")

	return s.repo.Update(ctx, id, func(cf *CaseFile) error {
		cf.SetDifferential(resp.Diagnoses)
		return nil
	})
}

// AttachImage sends the uploaded image for analysis and stores the result
// on the case.
func (s *Service) AttachImage(ctx context.Context, id uuid.UUID, f *upload.File) (*CaseFile, error) {
	release, err := s.repo.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}

	analysis, err := s.backend.AnalyzeImage(ctx, f.Name, f.Content)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_id", id.String()).
		Str("image_type", analysis.ImageType).
		Msg("image analyzed")

	return s.repo.Update(ctx, id, func(cf *CaseFile) error {
		cf.SetImageAnalysis(analysis)
		return nil
	})
}

// AttachLabReport extracts lab values from the uploaded report, stores the
// extraction, and merges the values into the case lab map.
func (s *Service) AttachLabReport(ctx context.Context, id uuid.UUID, f *upload.File) (*CaseFile, error) {
	release, err := s.repo.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}

	extracted, err := s.backend.ExtractLabsFile(ctx, f.Name, f.Content)
	if err != nil {
		return nil, err
	}

	ex := &LabExtraction{
		Values:         sanitizeLabs(extracted.FlattenedValues()),
		AbnormalValues: extracted.AbnormalValues,
		RawText:        extracted.RawText,
	}

	s.logger.Info().
		Str("case_id", id.String()).
		Int("values", len(ex.Values)).
		Int("abnormal", len(ex.AbnormalValues)).
		Msg("lab report extracted")

	return s.repo.Update(ctx, id, func(cf *CaseFile) error {
		cf.SetLabExtraction(ex)
		return nil
	})
}

func sanitizeLabs(values map[string]string) map[string]string {
	clean := make(map[string]string, len(values))
	for k, v := range values {
		name := middleware.SanitizeText(k, maxLabKeyLen)
		if name == "" {
			continue
		}
		clean[name] = middleware.SanitizeText(v, maxLabValueLen)
	}
	return clean
}
