package trialops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/trialdesk/platform/pkg/common/logger"
	"github.com/trialdesk/platform/pkg/common/models"
)

// TimelineCache keeps rendered timeline views in Redis keyed by subject and
// as-of date. A cache miss is never an error; the view is just recomputed.
type TimelineCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTimelineCache(client *redis.Client, ttl time.Duration) *TimelineCache {
	return &TimelineCache{client: client, ttl: ttl}
}

func timelineKey(subjectID uuid.UUID, asOf time.Time) string {
	return fmt.Sprintf("timeline:%s:%s", subjectID, asOf.Format("2006-01-02"))
}

func (c *TimelineCache) Get(ctx context.Context, subjectID uuid.UUID, asOf time.Time) (models.TimelineView, bool) {
	if c == nil || c.client == nil {
		return models.TimelineView{}, false
	}
	data, err := c.client.Get(ctx, timelineKey(subjectID, asOf)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.WithError(err).Warn("Timeline cache read failed")
		}
		return models.TimelineView{}, false
	}
	var view models.TimelineView
	if err := json.Unmarshal(data, &view); err != nil {
		logger.Log.WithError(err).Warn("Timeline cache entry corrupt, dropping")
		c.client.Del(ctx, timelineKey(subjectID, asOf))
		return models.TimelineView{}, false
	}
	return view, true
}

func (c *TimelineCache) Set(ctx context.Context, view models.TimelineView) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, timelineKey(view.SubjectID, view.AsOf), data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Warn("Timeline cache write failed")
	}
}

// Invalidate drops every cached as-of date for the subject.
func (c *TimelineCache) Invalidate(ctx context.Context, subjectID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	pattern := fmt.Sprintf("timeline:%s:*", subjectID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.WithError(err).Warn("Timeline cache invalidation failed")
	}
}
