package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
)

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r userRepo) GetByIDs(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[uuid.UUID]*models.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := r.s.users[id]; ok {
			out[id] = &u
		}
	}
	return out, nil
}

func (r userRepo) FindByDisplayName(_ context.Context, workspaceID uuid.UUID, name string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *models.User
	for id := range r.s.wsMembers[workspaceID] {
		u, ok := r.s.users[id]
		if !ok || !strings.EqualFold(u.DisplayName, name) {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			u := u
			found = &u
		}
	}
	return found, nil
}

type workspaceRepo struct{ s *Store }

func (r workspaceRepo) GetMember(_ context.Context, workspaceID, userID uuid.UUID) (*models.WorkspaceMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.wsMembers[workspaceID][userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r workspaceRepo) ListMemberIDs(_ context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	set := make(map[uuid.UUID]bool)
	for id := range r.s.wsMembers[workspaceID] {
		set[id] = true
	}
	return sortedIDs(set), nil
}

type channelRepo struct{ s *Store }

func (r channelRepo) create(workspaceID uuid.UUID, name string, isPrivate bool) (models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch := models.Channel{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Name:        name,
		IsPrivate:   isPrivate,
		CreatedAt:   r.s.now(),
	}
	r.s.channels[ch.ID] = ch
	r.s.channelMembers[ch.ID] = make(map[uuid.UUID]models.ChannelMember)
	return ch, nil
}

func (r channelRepo) Create(_ context.Context, workspaceID uuid.UUID, name string, isPrivate bool) (*models.Channel, error) {
	ch, err := r.create(workspaceID, name, isPrivate)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r channelRepo) GetByID(_ context.Context, channelID uuid.UUID) (*models.Channel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ch, ok := r.s.channels[channelID]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (r channelRepo) ListForUser(_ context.Context, userID, workspaceID uuid.UUID) ([]models.Channel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Channel, 0)
	for id, members := range r.s.channelMembers {
		if _, ok := members[userID]; !ok {
			continue
		}
		ch := r.s.channels[id]
		if workspaceID != uuid.Nil && ch.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type membershipRepo struct{ s *Store }

func (r membershipRepo) AddMember(_ context.Context, channelID, userID uuid.UUID, role string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.channelMembers[channelID] == nil {
		r.s.channelMembers[channelID] = make(map[uuid.UUID]models.ChannelMember)
	}
	if _, ok := r.s.channelMembers[channelID][userID]; ok {
		return nil
	}
	r.s.channelMembers[channelID][userID] = models.ChannelMember{
		ChannelID:        channelID,
		UserID:           userID,
		Role:             role,
		NotificationMode: models.NotifyAll,
	}
	return nil
}

func (r membershipRepo) RemoveMember(_ context.Context, channelID, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.channelMembers[channelID], userID)
	return nil
}

func (r membershipRepo) ListMembers(_ context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.ChannelMember, 0, len(r.s.channelMembers[channelID]))
	for _, m := range r.s.channelMembers[channelID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (r membershipRepo) IsMember(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.channelMembers[channelID][userID]
	return ok, nil
}

func (r membershipRepo) HasGuestAccess(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.guestAccess[channelID][userID], nil
}

type conversationRepo struct{ s *Store }

func (r conversationRepo) GetByID(_ context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r conversationRepo) ListForUser(_ context.Context, userID, workspaceID uuid.UUID) ([]models.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Conversation, 0)
	for id, set := range r.s.participants {
		if !set[userID] {
			continue
		}
		c := r.s.conversations[id]
		if workspaceID != uuid.Nil && c.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r conversationRepo) IsParticipant(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.participants[conversationID][userID], nil
}

func (r conversationRepo) ListParticipantIDs(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sortedIDs(r.s.participants[conversationID]), nil
}
