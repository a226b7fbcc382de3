// Package audit keeps the append-only trail of mutating operations.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"hoa-portal/internal/observability"
)

const (
	ActionRequestMembership = "REQUEST_MEMBERSHIP"
	ActionApproveMembership = "APPROVE_MEMBERSHIP"
	ActionRejectMembership  = "REJECT_MEMBERSHIP"
	ActionCreateReview      = "CREATE_REVIEW"
	ActionRespondReview     = "RESPOND_REVIEW"
	ActionModerateReview    = "MODERATE_REVIEW"
	ActionUpdateHOA         = "UPDATE_HOA"
	ActionCreatePost        = "CREATE_POST"
	ActionDeletePost        = "DELETE_POST"
	ActionCreateComment     = "CREATE_COMMENT"
	ActionDeleteComment     = "DELETE_COMMENT"
	ActionCreateEvent       = "CREATE_EVENT"
	ActionCreateDocument    = "CREATE_DOCUMENT"
	ActionFlagContent       = "FLAG_CONTENT"
	ActionResolveFlag       = "RESOLVE_FLAG"
)

type Entry struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Recorder struct {
	db     *sql.DB
	logger *observability.Logger
}

func NewRecorder(db *sql.DB, logger *observability.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record stores entry. A failure is logged and reported but never returned:
// the operation being audited has already happened.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if err := r.insert(ctx, entry); err != nil {
		sentry.CaptureException(err)
		r.logger.Error("audit_record_failed", map[string]any{
			"action":      entry.Action,
			"target_type": entry.TargetType,
			"target_id":   entry.TargetID,
			"error":       err.Error(),
		})
	}
}

func (r *Recorder) insert(ctx context.Context, entry Entry) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	var actorID sql.NullString
	if entry.ActorID != "" {
		actorID = sql.NullString{String: entry.ActorID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, target_type, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.String(), actorID, entry.Action, entry.TargetType, entry.TargetID, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
