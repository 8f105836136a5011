// Package cache holds the ephemeral, TTL-bound state: unread counters,
// presence entries and link-preview dedupe markers. Everything here can be
// rebuilt from the database, so every implementation may lose data.
package cache

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
)

func UnreadKey(userID uuid.UUID, target models.Target) string {
	if target.Type == models.TargetConversation {
		return fmt.Sprintf("unread:%s:conv:%s", userID, target.ID)
	}
	return fmt.Sprintf("unread:%s:channel:%s", userID, target.ID)
}

func WorkspaceUnreadKey(userID, workspaceID uuid.UUID) string {
	return fmt.Sprintf("workspace-unread:%s:%s", userID, workspaceID)
}

func PresenceKey(workspaceID, userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s:%s", workspaceID, userID)
}

func LinkPreviewKey(messageID uuid.UUID, url string) string {
	return fmt.Sprintf("link-preview:%s:%s", messageID, url)
}
