package realtime

import (
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
)

// Room names. Every broadcast goes to exactly one of these.

func UserRoom(id uuid.UUID) string         { return "user:" + id.String() }
func ChannelRoom(id uuid.UUID) string      { return "channel:" + id.String() }
func ConversationRoom(id uuid.UUID) string { return "conversation:" + id.String() }
func WorkspaceRoom(id uuid.UUID) string    { return "workspace:" + id.String() }
func ThreadRoom(id uuid.UUID) string       { return "thread:" + id.String() }

// TargetRoom is the room a message in target is broadcast to.
func TargetRoom(t models.Target) string {
	if t.Type == models.TargetConversation {
		return ConversationRoom(t.ID)
	}
	return ChannelRoom(t.ID)
}
