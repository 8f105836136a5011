// Package memory is an in-process implementation of every repository.
// It backs STORE=memory single-node runs and the service tests. All state
// sits behind one mutex, so the sequence allocator never conflicts.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/repository"
)

type readKey struct {
	userID uuid.UUID
	target models.Target
}

type reactionKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
	emoji     string
}

// Store holds the data. Use Repositories to get the interface bundle and
// the Add*/Grant*/Set* helpers to seed fixtures.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users          map[uuid.UUID]models.User
	workspaces     map[uuid.UUID]models.Workspace
	wsMembers      map[uuid.UUID]map[uuid.UUID]models.WorkspaceMember
	channels       map[uuid.UUID]models.Channel
	channelMembers map[uuid.UUID]map[uuid.UUID]models.ChannelMember
	guestAccess    map[uuid.UUID]map[uuid.UUID]bool
	conversations  map[uuid.UUID]models.Conversation
	participants   map[uuid.UUID]map[uuid.UUID]bool
	messages       map[uuid.UUID]models.Message
	attachments    map[uuid.UUID]models.Attachment
	readStates     map[readKey]models.ReadState
	reactions      map[reactionKey]models.Reaction
	threads        map[uuid.UUID]map[uuid.UUID]time.Time
	notifications  []models.Notification
}

func New() *Store {
	return &Store{
		now:            time.Now,
		users:          make(map[uuid.UUID]models.User),
		workspaces:     make(map[uuid.UUID]models.Workspace),
		wsMembers:      make(map[uuid.UUID]map[uuid.UUID]models.WorkspaceMember),
		channels:       make(map[uuid.UUID]models.Channel),
		channelMembers: make(map[uuid.UUID]map[uuid.UUID]models.ChannelMember),
		guestAccess:    make(map[uuid.UUID]map[uuid.UUID]bool),
		conversations:  make(map[uuid.UUID]models.Conversation),
		participants:   make(map[uuid.UUID]map[uuid.UUID]bool),
		messages:       make(map[uuid.UUID]models.Message),
		attachments:    make(map[uuid.UUID]models.Attachment),
		readStates:     make(map[readKey]models.ReadState),
		reactions:      make(map[reactionKey]models.Reaction),
		threads:        make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Users:         userRepo{s},
		Workspaces:    workspaceRepo{s},
		Channels:      channelRepo{s},
		Memberships:   membershipRepo{s},
		Conversations: conversationRepo{s},
		Messages:      messageRepo{s},
		Reactions:     reactionRepo{s},
		ReadStates:    readStateRepo{s},
		Threads:       threadRepo{s},
		Notifications: notificationRepo{s},
	}
}

// ---- seeding ----

func (s *Store) AddUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
	return u
}

func (s *Store) AddWorkspace(name string) models.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := models.Workspace{ID: uuid.New(), Name: name, CreatedAt: s.now()}
	s.workspaces[ws.ID] = ws
	s.wsMembers[ws.ID] = make(map[uuid.UUID]models.WorkspaceMember)
	return ws
}

func (s *Store) AddWorkspaceMember(workspaceID, userID uuid.UUID, role string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsMembers[workspaceID] == nil {
		s.wsMembers[workspaceID] = make(map[uuid.UUID]models.WorkspaceMember)
	}
	s.wsMembers[workspaceID][userID] = models.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
		Locked:      locked,
	}
}

func (s *Store) AddChannel(workspaceID uuid.UUID, name string) models.Channel {
	ch, _ := channelRepo{s}.create(workspaceID, name, false)
	return ch
}

func (s *Store) ArchiveChannel(channelID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return
	}
	at := s.now()
	ch.ArchivedAt = &at
	s.channels[channelID] = ch
}

func (s *Store) SetNotificationMode(channelID, userID uuid.UUID, mode models.NotificationMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.channelMembers[channelID][userID]; ok {
		m.NotificationMode = mode
		s.channelMembers[channelID][userID] = m
	}
}

func (s *Store) GrantGuestAccess(channelID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guestAccess[channelID] == nil {
		s.guestAccess[channelID] = make(map[uuid.UUID]bool)
	}
	s.guestAccess[channelID][userID] = true
}

func (s *Store) AddConversation(workspaceID uuid.UUID, participantIDs ...uuid.UUID) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.Conversation{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		IsGroup:     len(participantIDs) > 2,
		CreatedAt:   s.now(),
	}
	s.conversations[c.ID] = c
	set := make(map[uuid.UUID]bool, len(participantIDs))
	for _, id := range participantIDs {
		set[id] = true
	}
	s.participants[c.ID] = set
	return c
}

// AddAttachment registers an upload that no message has claimed yet.
func (s *Store) AddAttachment(uploaderID uuid.UUID, fileName, mimeType, url string, size int64) models.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.Attachment{
		ID:         uuid.New(),
		UploaderID: uploaderID,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  size,
		URL:        url,
		CreatedAt:  s.now(),
	}
	s.attachments[a.ID] = a
	return a
}

// Notifications returns a copy of every stored notification, oldest first.
func (s *Store) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func sortedIDs(set map[uuid.UUID]bool) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
