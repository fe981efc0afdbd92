// Package debate drives the challenge/response cycle between a case
// file and the AI backend. Each cycle appends the user challenge as a
// pending round, posts the full case context, and completes or fails the
// round with the backend's answer. Failed rounds stay in the transcript
// so the client can retry them.
package debate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sturgeon/sturgeon/internal/domain/casefile"
	"github.com/sturgeon/sturgeon/internal/platform/backend"
	"github.com/sturgeon/sturgeon/internal/platform/httperr"
	"github.com/sturgeon/sturgeon/internal/platform/middleware"
)

var (
	// ErrEmptyChallenge rejects a debate turn whose challenge sanitizes
	// to nothing.
	ErrEmptyChallenge = errors.New("challenge is empty")

	// ErrNothingToRetry rejects a retry when the last round did not fail.
	ErrNothingToRetry = errors.New("last round is not a failed round")
)

const maxChallengeLen = 5000

type Service struct {
	cases  casefile.Repository
	client *backend.Client
	logger zerolog.Logger
}

func NewService(cases casefile.Repository, client *backend.Client, logger zerolog.Logger) *Service {
	return &Service{cases: cases, client: client, logger: logger}
}

// Run executes one debate cycle for the case. The per-case operation lock
// is held for the whole cycle so concurrent turns queue instead of
// interleaving their read-call-write sequences.
func (s *Service) Run(ctx context.Context, id uuid.UUID, challenge string) (*casefile.CaseFile, error) {
	challenge = middleware.SanitizeText(challenge, maxChallengeLen)
	if challenge == "" {
		return nil, ErrEmptyChallenge
	}

	release, err := s.cases.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.cycle(ctx, id, challenge)
}

// Retry removes the trailing failed round and resends its challenge
// through a fresh cycle.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*casefile.CaseFile, error) {
	release, err := s.cases.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var challenge string
	_, err = s.cases.Update(ctx, id, func(cf *casefile.CaseFile) error {
		last := cf.LastRound()
		if last == nil || !last.Failed {
			return ErrNothingToRetry
		}
		challenge = cf.DropLastRound().Challenge
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("case_id", id.String()).Msg("retrying failed debate round")
	return s.cycle(ctx, id, challenge)
}

// cycle appends the pending round, posts the full context, and records the
// outcome. The caller must hold the case's operation lock.
func (s *Service) cycle(ctx context.Context, id uuid.UUID, challenge string) (*casefile.CaseFile, error) {
	// The pending round is committed before the backend call so readers
	// see the challenge while the turn is in flight.
	snapshot, err := s.cases.Update(ctx, id, func(cf *casefile.CaseFile) error {
		cf.AppendRound(casefile.DebateRound{
			Challenge: challenge,
			Pending:   true,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp, callErr := s.client.DebateTurn(ctx, backend.DebateTurnRequest{
		PatientHistory:      snapshot.PatientHistory,
		LabValues:           snapshot.LabValues,
		CurrentDifferential: snapshot.Differential,
		PreviousRounds:      snapshot.CompletedRounds(),
		UserChallenge:       challenge,
		SessionID:           snapshot.SessionID,
		ImageContext:        snapshot.ImageContext(),
	})
	if callErr != nil {
		detail := httperr.BackendDetail(callErr)
		if _, err := s.cases.Update(ctx, id, func(cf *casefile.CaseFile) error {
			cf.FailRound(detail)
			return nil
		}); err != nil {
			s.logger.Error().Err(err).Str("case_id", id.String()).Msg("recording failed round")
		}
		s.logger.Warn().
			Err(callErr).
			Str("case_id", id.String()).
			Msg("debate turn failed")
		return nil, callErr
	}

	updated, err := s.cases.Update(ctx, id, func(cf *casefile.CaseFile) error {
		cf.CompleteRound(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_id", id.String()).
		Int("rounds", len(updated.Rounds)).
		Bool("orchestrated", resp.Orchestrated).
		Bool("has_guidelines", resp.HasGuidelines).
		Msg("debate turn completed")
	return updated, nil
}
