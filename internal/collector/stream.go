package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

const (
	// MentionStream stores ingested mentions
	MentionStream = "MENTIONS"
	// IngestSubject is where upstream scrapers publish normalized mentions
	IngestSubject = "mention.ingest"

	maxSimilar       = 5
	minSharedKeyword = 2
)

// buffered is a mention with the time the stream stored it
type buffered struct {
	mention    model.Mention
	ingestedAt time.Time
}

// StreamCollector buffers mentions published on JetStream and serves keyword scans over them.
// The buffer is rebuilt from the stream on Start, so it survives restarts within the retention window.
type StreamCollector struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	retention time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	mentions []buffered
	seen     map[string]bool
	sub      *nats.Subscription
}

// NewStreamCollector creates a collector that keeps mentions for the retention window
func NewStreamCollector(js nats.JetStreamContext, retention time.Duration, logger *zap.Logger) *StreamCollector {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &StreamCollector{
		logger:    logger.Named("collector"),
		js:        js,
		retention: retention,
		now:       time.Now,
		seen:      make(map[string]bool),
	}
}

// Start creates the mention stream if needed and subscribes to it
func (c *StreamCollector) Start(ctx context.Context) error {
	stream, err := c.js.StreamInfo(MentionStream)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		if _, err := c.js.AddStream(&nats.StreamConfig{
			Name:     MentionStream,
			Subjects: []string{IngestSubject},
			Storage:  nats.FileStorage,
			MaxAge:   c.retention,
		}); err != nil {
			return fmt.Errorf("failed to create mention stream: %w", err)
		}
	}

	// Replay the retention window into the buffer, then follow new mentions
	sub, err := c.js.Subscribe(IngestSubject, c.handleMention,
		nats.StartTime(c.now().Add(-c.retention)),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to mentions: %w", err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	c.logger.Info("Collector started", zap.Duration("retention", c.retention))
	return nil
}

// Stop unsubscribes from the stream
func (c *StreamCollector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
}

// Publish ingests a mention through the stream
func (c *StreamCollector) Publish(ctx context.Context, m model.Mention) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if err := Validate(m); err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mention: %w", err)
	}

	if _, err := c.js.Publish(IngestSubject, data, nats.Context(ctx), nats.MsgId(m.ID)); err != nil {
		c.logger.Error("Failed to publish mention",
			zap.String("mention_id", m.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish mention: %w", err)
	}
	return nil
}

func (c *StreamCollector) handleMention(msg *nats.Msg) {
	var m model.Mention
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		c.logger.Error("Failed to unmarshal mention", zap.Error(err))
		_ = msg.Term()
		return
	}
	if err := Validate(m); err != nil {
		c.logger.Warn("Dropping mention", zap.String("mention_id", m.ID), zap.Error(err))
		_ = msg.Term()
		return
	}

	ingestedAt := c.now()
	if meta, err := msg.Metadata(); err == nil {
		ingestedAt = meta.Timestamp
	}

	c.add(m, ingestedAt)
	_ = msg.Ack()
}

func (c *StreamCollector) add(m model.Mention, ingestedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen[m.ID] {
		return
	}
	c.seen[m.ID] = true
	c.mentions = append(c.mentions, buffered{mention: m, ingestedAt: ingestedAt})
	c.pruneLocked()
}

// pruneLocked drops mentions ingested before the retention window
func (c *StreamCollector) pruneLocked() {
	cutoff := c.now().Add(-c.retention)
	kept := c.mentions[:0]
	for _, b := range c.mentions {
		if b.ingestedAt.Before(cutoff) {
			delete(c.seen, b.mention.ID)
			continue
		}
		kept = append(kept, b)
	}
	c.mentions = kept
}

// Scan returns buffered mentions ingested at or after since that match any keyword.
// The watermark is ingest time, so a mention that reaches the stream late is still
// returned by the next scan whatever its publish time. An empty keyword set matches
// every mention. Results are ordered by publish time.
func (c *StreamCollector) Scan(ctx context.Context, keywords []string, since time.Time) ([]model.Mention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sub == nil {
		return nil, ErrNotStarted
	}

	terms := lowerAll(keywords)
	var out []model.Mention
	for _, b := range c.mentions {
		if b.ingestedAt.Before(since) {
			continue
		}
		if len(terms) == 0 || Matches(b.mention, terms) {
			out = append(out, b.mention)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})
	return out, nil
}

// FindSimilar returns up to five buffered mentions sharing at least two keywords with m
func (c *StreamCollector) FindSimilar(ctx context.Context, m model.Mention) ([]model.Mention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	own := make(map[string]bool, len(m.Keywords))
	for _, k := range lowerAll(m.Keywords) {
		own[k] = true
	}
	if len(own) < minSharedKeyword {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.Mention
	for _, b := range c.mentions {
		other := b.mention
		if other.ID == m.ID {
			continue
		}
		shared := 0
		for _, k := range lowerAll(other.Keywords) {
			if own[k] {
				shared++
			}
		}
		if shared >= minSharedKeyword {
			out = append(out, other)
			if len(out) == maxSimilar {
				break
			}
		}
	}
	return out, nil
}

// Len returns the number of buffered mentions
func (c *StreamCollector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mentions)
}

// Matches reports whether the mention's content or keywords contain any of the lower-cased terms
func Matches(m model.Mention, terms []string) bool {
	content := strings.ToLower(m.Content)
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(content, t) {
			return true
		}
		for _, k := range m.Keywords {
			if strings.ToLower(k) == t {
				return true
			}
		}
	}
	return false
}

// Validate checks the mention's field ranges
func Validate(m model.Mention) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMention)
	case m.SentimentScore < -1 || m.SentimentScore > 1:
		return fmt.Errorf("%w: sentiment %.2f out of range", ErrInvalidMention, m.SentimentScore)
	case m.ReachCount < 0 || m.EngagementCount < 0:
		return fmt.Errorf("%w: negative counts", ErrInvalidMention)
	}
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
