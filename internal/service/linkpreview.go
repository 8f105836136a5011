package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/queue"
	"go.uber.org/zap"
)

const (
	maxPreviewURLs = 5
	previewDedupe  = 24 * time.Hour
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// ExtractURLs returns up to five distinct http(s) URLs in order of
// appearance. Trailing sentence punctuation is not part of the URL.
func ExtractURLs(content string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, maxPreviewURLs)
	for _, raw := range urlPattern.FindAllString(content, -1) {
		u := strings.TrimRight(raw, ".,;:!?)]}")
		if seen[u] || len(u) <= len("https://") {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == maxPreviewURLs {
			break
		}
	}
	return out
}

type LinkPreviewJob struct {
	MessageID uuid.UUID     `json:"messageId"`
	URL       string        `json:"url"`
	Target    models.Target `json:"target"`
}

// LinkPreviewer queues one fetch job per (message, URL). The fetcher
// posts the preview back out of band.
type LinkPreviewer struct {
	dedupe   cache.Deduper
	producer queue.Producer
	topic    string
	jobs     *Background
	logger   *zap.Logger
}

func NewLinkPreviewer(dedupe cache.Deduper, producer queue.Producer, topic string, jobs *Background, logger *zap.Logger) *LinkPreviewer {
	return &LinkPreviewer{
		dedupe:   dedupe,
		producer: producer,
		topic:    topic,
		jobs:     jobs,
		logger:   logger.Named("previews"),
	}
}

// Enqueue returns how many jobs it queued.
func (l *LinkPreviewer) Enqueue(ctx context.Context, msg *models.Message) int {
	if l.producer == nil {
		return 0
	}
	queued := 0
	for _, u := range ExtractURLs(msg.Content) {
		if l.dedupe != nil {
			first, err := l.dedupe.FirstSeen(ctx, cache.LinkPreviewKey(msg.ID, u), previewDedupe)
			if err != nil {
				l.logger.Warn("preview dedupe failed", zap.String("url", u), zap.Error(err))
			} else if !first {
				continue
			}
		}
		job := LinkPreviewJob{MessageID: msg.ID, URL: u, Target: msg.Target()}
		l.jobs.Go("link-preview", func(ctx context.Context) error {
			return l.producer.Publish(ctx, l.topic, job.MessageID.String(), job)
		})
		queued++
	}
	return queued
}
