package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/trialdesk/platform/pkg/common/config"
	"github.com/trialdesk/platform/pkg/common/database"
	"github.com/trialdesk/platform/pkg/common/kafka"
	"github.com/trialdesk/platform/pkg/common/logger"
	"github.com/trialdesk/platform/pkg/common/models"
	"github.com/trialdesk/platform/pkg/compliance"
	"github.com/trialdesk/platform/pkg/trialops"
)

// Event types that invalidate a subject's cached timeline.
var recomputeEvents = map[string]bool{
	"visit_recorded":      true,
	"visit_updated":       true,
	"section_opened":      true,
	"section_closed":      true,
	"compliance_recorded": true,
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := trialops.NewRepository(db)
	catalog, err := compliance.LoadCatalog(cfg.DosingCatalogPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.DosingCatalogPath).
			Warn("Dosing catalog load failed, using compiled-in default")
	}
	cache := trialops.NewTimelineCache(database.GetRedis(), cfg.TimelineCacheTTL)

	// The worker only recomputes; it never publishes follow-on events, so no
	// producer is wired in.
	service := trialops.NewService(repo, cache, nil, catalog)

	consumer := kafka.NewConsumer(cfg.VisitEventsTopic, cfg.KafkaGroupID+"-timeline-worker")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down timeline worker...")
		cancel()
	}()

	logger.Log.WithField("topic", cfg.VisitEventsTopic).Info("Timeline worker consuming")
	err = consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
		if !recomputeEvents[event.Type] {
			return nil
		}
		raw, ok := event.Data["subject_id"].(string)
		if !ok {
			logger.Log.WithField("event_id", event.ID).Warn("Event missing subject_id, skipping")
			return nil
		}
		subjectID, err := uuid.Parse(raw)
		if err != nil {
			logger.Log.WithField("event_id", event.ID).Warn("Event subject_id not a UUID, skipping")
			return nil
		}
		if err := service.RecomputeTimeline(ctx, subjectID); err != nil {
			return err
		}
		logger.Log.WithFields(map[string]interface{}{
			"subject_id": subjectID,
			"event_type": event.Type,
		}).Info("Timeline recomputed")
		return nil
	})
	if err != nil && err != context.Canceled {
		logger.Log.WithError(err).Error("Consumer stopped with error")
	}

	database.ClosePostgres()
	database.CloseRedis()
	logger.Log.Info("Timeline worker stopped")
}
