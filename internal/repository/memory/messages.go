package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
)

type messageRepo struct{ s *Store }

func (r messageRepo) maxSequenceLocked(t models.Target) int64 {
	var max int64
	for _, m := range r.s.messages {
		if m.Target() == t && m.Sequence > max {
			max = m.Sequence
		}
	}
	return max
}

func (r messageRepo) CreateWithNextSequence(_ context.Context, msg *models.Message) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := *msg
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Sequence = r.maxSequenceLocked(m.Target()) + 1
	m.ReplyCount = 0
	m.DeletedAt = nil
	m.CreatedAt = r.s.now()
	m.UpdatedAt = m.CreatedAt
	r.s.messages[m.ID] = m
	return &m, nil
}

func (r messageRepo) GetByID(_ context.Context, messageID uuid.UUID) (*models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[messageID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r messageRepo) SoftDelete(_ context.Context, messageID, authorID uuid.UUID) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[messageID]
	if !ok || m.AuthorID != authorID || m.DeletedAt != nil {
		return nil, nil
	}
	at := r.s.now()
	m.DeletedAt = &at
	r.s.messages[messageID] = m
	return &m, nil
}

func (r messageRepo) ListBefore(_ context.Context, target models.Target, before int64, limit int) ([]models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, m := range r.s.messages {
		if m.Target() != target || m.ParentID != nil {
			continue
		}
		if before > 0 && m.Sequence >= before {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r messageRepo) ListReplies(_ context.Context, parentID uuid.UUID) ([]models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, m := range r.s.messages {
		if m.ParentID != nil && *m.ParentID == parentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r messageRepo) MaxSequence(_ context.Context, target models.Target) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.maxSequenceLocked(target), nil
}

func (r messageRepo) IncrementReplyCount(_ context.Context, parentID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[parentID]
	if !ok {
		return 0, nil
	}
	m.ReplyCount++
	m.UpdatedAt = r.s.now()
	r.s.messages[parentID] = m
	return m.ReplyCount, nil
}

func (r messageRepo) ClaimAttachments(_ context.Context, messageID, uploaderID uuid.UUID, ids []uuid.UUID) ([]models.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Attachment, 0, len(ids))
	for _, id := range ids {
		a, ok := r.s.attachments[id]
		if !ok || a.UploaderID != uploaderID || a.MessageID != nil {
			continue
		}
		mid := messageID
		a.MessageID = &mid
		r.s.attachments[id] = a
		out = append(out, a)
	}
	return out, nil
}

func (r messageRepo) ListAttachments(_ context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.Attachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	out := make(map[uuid.UUID][]models.Attachment)
	for _, a := range r.s.attachments {
		if a.MessageID != nil && want[*a.MessageID] {
			out[*a.MessageID] = append(out[*a.MessageID], a)
		}
	}
	for id := range out {
		atts := out[id]
		sort.Slice(atts, func(i, j int) bool { return atts[i].CreatedAt.Before(atts[j].CreatedAt) })
	}
	return out, nil
}

type reactionRepo struct{ s *Store }

func (r reactionRepo) Remove(_ context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, ok := r.s.reactions[k]; !ok {
		return false, nil
	}
	delete(r.s.reactions, k)
	return true, nil
}

func (r reactionRepo) Add(_ context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, ok := r.s.reactions[k]; ok {
		return false, nil
	}
	r.s.reactions[k] = models.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: r.s.now(),
	}
	return true, nil
}

func (r reactionRepo) ListByMessage(_ context.Context, messageID uuid.UUID) ([]models.Reaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Reaction, 0)
	for k, rx := range r.s.reactions {
		if k.messageID != messageID {
			continue
		}
		rx.UserName = r.s.users[k.userID].DisplayName
		out = append(out, rx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out, nil
}

type readStateRepo struct{ s *Store }

func (r readStateRepo) Get(_ context.Context, userID uuid.UUID, target models.Target) (*models.ReadState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rs, ok := r.s.readStates[readKey{userID, target}]
	if !ok {
		return nil, nil
	}
	return &rs, nil
}

func (r readStateRepo) MarkRead(_ context.Context, userID uuid.UUID, target models.Target, sequence int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := readKey{userID, target}
	rs := r.s.readStates[k]
	rs.UserID, rs.Target = userID, target
	if sequence > rs.LastReadSequence {
		rs.LastReadSequence = sequence
	}
	rs.MarkedUnreadAtSequence = nil
	r.s.readStates[k] = rs
	return nil
}

func (r readStateRepo) MarkUnread(_ context.Context, userID uuid.UUID, target models.Target, sequence int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := readKey{userID, target}
	rs := r.s.readStates[k]
	rs.UserID, rs.Target = userID, target
	seq := sequence
	rs.MarkedUnreadAtSequence = &seq
	r.s.readStates[k] = rs
	return nil
}

type threadRepo struct{ s *Store }

func (r threadRepo) UpsertParticipant(_ context.Context, threadID, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.threads[threadID] == nil {
		r.s.threads[threadID] = make(map[uuid.UUID]time.Time)
	}
	r.s.threads[threadID][userID] = r.s.now()
	return nil
}

func (r threadRepo) ListParticipantIDs(_ context.Context, threadID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	set := make(map[uuid.UUID]bool, len(r.s.threads[threadID]))
	for id := range r.s.threads[threadID] {
		set[id] = true
	}
	return sortedIDs(set), nil
}

type notificationRepo struct{ s *Store }

func (r notificationRepo) CreateBatch(_ context.Context, notifications []models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.notifications = append(r.s.notifications, notifications...)
	return nil
}
