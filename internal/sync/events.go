package sync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/finsync/integration-connector/internal/platform/queue"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// CycleEvent is published after every completed sync cycle so downstream
// consumers (search indexers, reporting) know fresh data landed.
type CycleEvent struct {
	AccountID       domain.AccountID       `json:"account_id"`
	IntegrationType domain.IntegrationType `json:"integration_type"`
	Outcome         string                 `json:"outcome"`
	RecordsSynced   int                    `json:"records_synced"`
	CompletedAt     time.Time              `json:"completed_at"`
}

type CycleEventAnnouncer interface {
	Announce(ctx context.Context, event CycleEvent) error
}

func NewCycleEventAnnouncer(cfg *config.Config) (CycleEventAnnouncer, error) {
	switch cfg.SyncEventsImpl {
	case "kafka":
		var saslConfig *queue.SaslConfig
		if cfg.KafkaUsername != "" {
			saslConfig = &queue.SaslConfig{
				SaslMechanism: cfg.KafkaSASLMechanism,
				SaslUsername:  cfg.KafkaUsername,
				SaslPassword:  cfg.KafkaPassword,
				KafkaCA:       cfg.KafkaCA,
			}
		}

		kafkaProducer := queue.StartProducer(&queue.ProducerConfig{
			Brokers:    cfg.SyncEventsKafkaBrokers,
			SaslConfig: saslConfig,
			Topic:      cfg.SyncEventsKafkaTopic,
			BatchSize:  cfg.SyncEventsKafkaBatchSize,
			BatchBytes: cfg.SyncEventsKafkaBatchBytes,
			Balancer:   "hash",
		})

		return &kafkaCycleEventAnnouncer{writer: kafkaProducer}, nil
	case "fake":
		return &fakeCycleEventAnnouncer{}, nil
	default:
		return nil, errors.New("invalid sync events implementation requested: " + cfg.SyncEventsImpl)
	}
}

// kafkaCycleEventAnnouncer keys messages by account id so per-account
// ordering survives topic partitioning.
type kafkaCycleEventAnnouncer struct {
	writer *kafka.Writer
}

func (kcea *kafkaCycleEventAnnouncer) Announce(ctx context.Context, event CycleEvent) error {
	message, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return kcea.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(event.AccountID),
			Value: message,
		})
}

type fakeCycleEventAnnouncer struct {
}

func (fcea *fakeCycleEventAnnouncer) Announce(ctx context.Context, event CycleEvent) error {
	logger.Log.WithFields(logrus.Fields{
		"account_id":     event.AccountID,
		"outcome":        event.Outcome,
		"records_synced": event.RecordsSynced}).Debug("FAKE: sync cycle event")
	return nil
}
