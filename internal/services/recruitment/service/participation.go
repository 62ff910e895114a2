package service

import (
	"context"
	"errors"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/services/recruitment/approval"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"go.uber.org/zap"
)

// JoinPosting files a join request for participantID.
func (s *Service) JoinPosting(ctx context.Context, participantID, postingID string) (participation domain.Participation, err error) {
	ctx, op := s.begin(ctx, "join_posting", "participant_id", participantID, "posting_id", postingID)
	defer func() { op.end(err, true, zap.String("participation_id", participation.ID)) }()

	return s.admission.RequestJoin(ctx, participantID, postingID)
}

// LeavePosting withdraws participantID's PENDING request.
func (s *Service) LeavePosting(ctx context.Context, participantID, postingID string) (err error) {
	ctx, op := s.begin(ctx, "leave_posting", "participant_id", participantID, "posting_id", postingID)
	defer func() { op.end(err, true) }()

	_, err = s.admission.CancelJoin(ctx, participantID, postingID)
	return err
}

// ApproveParticipation grants the participation a seat.
func (s *Service) ApproveParticipation(ctx context.Context, authorID, participationID string) (decision approval.Decision, err error) {
	ctx, op := s.begin(ctx, "approve_participation", "author_id", authorID, "participation_id", participationID)
	defer func() { op.end(err, true, zap.Int("approved_count", decision.ApprovedCount)) }()

	decision, err = s.approval.Approve(ctx, authorID, participationID)
	if err != nil {
		return approval.Decision{}, err
	}
	s.recordTransition(ctx, decision.Posting.ID, string(decision.PreviousStatus), string(decision.Posting.Status))
	return decision, nil
}

// RejectParticipation denies the participation.
func (s *Service) RejectParticipation(ctx context.Context, authorID, participationID string) (decision approval.Decision, err error) {
	ctx, op := s.begin(ctx, "reject_participation", "author_id", authorID, "participation_id", participationID)
	defer func() { op.end(err, true, zap.Int("approved_count", decision.ApprovedCount)) }()

	decision, err = s.approval.Reject(ctx, authorID, participationID)
	if err != nil {
		return approval.Decision{}, err
	}
	s.recordTransition(ctx, decision.Posting.ID, string(decision.PreviousStatus), string(decision.Posting.Status))
	return decision, nil
}

// GetParticipationStatus returns participantID's status on the posting, or
// domain.NotParticipating. It reads without locks and may be stale.
func (s *Service) GetParticipationStatus(ctx context.Context, participantID, postingID string) (status domain.ParticipationStatus, err error) {
	ctx, op := s.begin(ctx, "get_participation_status", "participant_id", participantID, "posting_id", postingID)
	defer func() { op.end(err, false) }()

	participation, err := s.activeParticipation(ctx, participantID, postingID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeParticipationNotFound {
			return domain.NotParticipating, nil
		}
		return "", err
	}
	return participation.Status, nil
}

// GetMyParticipation returns participantID's active participation record.
func (s *Service) GetMyParticipation(ctx context.Context, participantID, postingID string) (participation domain.Participation, err error) {
	ctx, op := s.begin(ctx, "get_my_participation", "participant_id", participantID, "posting_id", postingID)
	defer func() { op.end(err, false) }()

	return s.activeParticipation(ctx, participantID, postingID)
}

// ListParticipations returns the posting's active participations. Only the
// author may list them.
func (s *Service) ListParticipations(ctx context.Context, authorID, postingID string) (participations []domain.Participation, err error) {
	ctx, op := s.begin(ctx, "list_participations", "author_id", authorID, "posting_id", postingID)
	defer func() { op.end(err, false, zap.Int("count", len(participations))) }()

	posting, err := s.store.GetPosting(ctx, postingID)
	if err != nil {
		return nil, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	if !posting.IsAuthor(authorID) {
		return nil, apperrors.New(apperrors.CodePostingNotAuthorized, "only the posting author can list participations")
	}
	participations, err = s.store.ListActiveParticipations(ctx, postingID)
	if err != nil {
		return nil, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	return participations, nil
}

func (s *Service) activeParticipation(ctx context.Context, participantID, postingID string) (domain.Participation, error) {
	if err := s.resolve(ctx, participantID); err != nil {
		return domain.Participation{}, err
	}
	if _, err := s.store.GetPosting(ctx, postingID); err != nil {
		return domain.Participation{}, storage.AppError(err, apperrors.CodePostingNotFound, "posting not found")
	}
	participation, err := s.store.GetActiveParticipation(ctx, postingID, participantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Participation{}, apperrors.Wrap(apperrors.CodeParticipationNotFound, "participant has no active participation", err)
		}
		return domain.Participation{}, storage.AppError(err, apperrors.CodeParticipationNotFound, "participation not found")
	}
	return participation, nil
}
