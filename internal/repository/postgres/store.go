// Package postgres implements the repository interfaces on a pgx pool.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chorus/internal/repository"
)

func New(pool *pgxpool.Pool) *repository.Store {
	return &repository.Store{
		Users:         NewUserStore(pool),
		Workspaces:    NewWorkspaceStore(pool),
		Channels:      NewChannelStore(pool),
		Memberships:   NewMembershipStore(pool),
		Conversations: NewConversationStore(pool),
		Messages:      NewMessageStore(pool),
		Reactions:     NewReactionStore(pool),
		ReadStates:    NewReadStateStore(pool),
		Threads:       NewThreadStore(pool),
		Notifications: NewNotificationStore(pool),
	}
}
