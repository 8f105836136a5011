package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"go.uber.org/zap"
)

const maxPresenceBatch = 100

type PresenceUpdate struct {
	UserID      uuid.UUID             `json:"userId"`
	WorkspaceID uuid.UUID             `json:"workspaceId"`
	Status      models.PresenceStatus `json:"status"`
}

// PresenceManager tracks active/away per (workspace, user). Offline is the
// absence of an entry, reached by explicit disconnect or TTL expiry.
type PresenceManager struct {
	store      cache.PresenceStore
	workspaces repository.WorkspaceRepository
	bc         Broadcaster
	ttl        time.Duration
	logger     *zap.Logger
}

func NewPresenceManager(store cache.PresenceStore, workspaces repository.WorkspaceRepository, bc Broadcaster, ttl time.Duration, logger *zap.Logger) *PresenceManager {
	return &PresenceManager{
		store:      store,
		workspaces: workspaces,
		bc:         bc,
		ttl:        ttl,
		logger:     logger.Named("presence"),
	}
}

func (p *PresenceManager) SetStatus(ctx context.Context, userID, workspaceID uuid.UUID, status models.PresenceStatus) error {
	if status != models.PresenceActive && status != models.PresenceAway {
		return apperror.Validation(apperror.CodeInvalidPayload, "status must be active or away")
	}
	if err := p.store.Set(ctx, workspaceID, userID, status, p.ttl); err != nil {
		return apperror.Internal("set presence", err)
	}
	p.broadcast(ctx, userID, workspaceID, status)
	return nil
}

// Heartbeat extends the TTL without changing status or broadcasting. An
// entry that already expired stays expired until the client sets a status
// again.
func (p *PresenceManager) Heartbeat(ctx context.Context, userID, workspaceID uuid.UUID) error {
	if _, err := p.store.Refresh(ctx, workspaceID, userID, p.ttl); err != nil {
		return apperror.Internal("refresh presence", err)
	}
	return nil
}

func (p *PresenceManager) SetOffline(ctx context.Context, userID, workspaceID uuid.UUID) error {
	if err := p.store.Delete(ctx, workspaceID, userID); err != nil {
		return apperror.Internal("clear presence", err)
	}
	p.broadcast(ctx, userID, workspaceID, models.PresenceOffline)
	return nil
}

// Fetch is the client-facing batch query. The requester must belong to the
// workspace.
func (p *PresenceManager) Fetch(ctx context.Context, requesterID, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceStatus, error) {
	if len(userIDs) > maxPresenceBatch {
		return nil, apperror.Validation(apperror.CodeBatchTooLarge, "at most 100 user ids per request")
	}
	member, err := p.workspaces.GetMember(ctx, workspaceID, requesterID)
	if err != nil {
		return nil, apperror.Internal("load workspace member", err)
	}
	if member == nil {
		return nil, apperror.Forbidden("not a member of this workspace")
	}
	return p.Statuses(ctx, workspaceID, userIDs)
}

// Statuses reads statuses without authorization. Unknown users are
// offline.
func (p *PresenceManager) Statuses(ctx context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceStatus, error) {
	out, err := p.store.GetMany(ctx, workspaceID, userIDs)
	if err != nil {
		return nil, apperror.Internal("get presence", err)
	}
	return out, nil
}

func (p *PresenceManager) broadcast(ctx context.Context, userID, workspaceID uuid.UUID, status models.PresenceStatus) {
	p.bc.Emit(ctx, realtime.WorkspaceRoom(workspaceID), realtime.EventPresenceUpdate, PresenceUpdate{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Status:      status,
	})
}
