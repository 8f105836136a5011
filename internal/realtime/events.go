package realtime

// Inbound event names.
const (
	EventMessageSend             = "message:send"
	EventMessageDelete           = "message:delete"
	EventMessageGetOlder         = "message:getOlder"
	EventReactionToggle          = "reaction:toggle"
	EventReactionGet             = "reaction:get"
	EventThreadReply             = "thread:reply"
	EventThreadJoin              = "thread:join"
	EventThreadLeave             = "thread:leave"
	EventThreadGetReplies        = "thread:getReplies"
	EventPresenceSetActive       = "presence:setActive"
	EventPresenceSetAway         = "presence:setAway"
	EventPresenceHeartbeat       = "presence:heartbeat"
	EventPresenceFetch           = "presence:fetch"
	EventUnreadFetch             = "unread:fetch"
	EventUnreadMarkRead          = "unread:markRead"
	EventUnreadMarkMessageUnread = "unread:markMessageUnread"
	EventWorkspaceFetchUnreads   = "workspace:fetchUnreads"
	EventRoomJoin                = "room:join"
	EventRoomLeave               = "room:leave"
	EventWorkspaceJoin           = "workspace:join"
	EventTypingStart             = "typing:start"
	EventTypingStop              = "typing:stop"
)

// Outbound event names.
const (
	EventMessageNew            = "message:new"
	EventMessageDeleted        = "message:deleted"
	EventMessageReplyCount     = "message:replyCount"
	EventReactionUpdate        = "reaction:update"
	EventThreadNewReply        = "thread:newReply"
	EventPresenceUpdate        = "presence:update"
	EventUnreadUpdate          = "unread:update"
	EventWorkspaceUnreadUpdate = "workspace:unreadUpdate"
	EventTypingUpdate          = "typing:update"
	EventNotificationNew       = "notification:new"
	EventAck                   = "ack"
	EventError                 = "error"
)
