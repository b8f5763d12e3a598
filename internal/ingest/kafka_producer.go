package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/school-carpool/internal/models"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// MaxAccuracyM is the coarsest location fix accepted at the ingest
// boundary. Updates reported with worse accuracy are discarded.
const MaxAccuracyM = 100.0

// FamilyUpdate is the wire form of a directory update: a profile snapshot
// plus the reporting accuracy of its home coordinate fix.
type FamilyUpdate struct {
	Profile   models.FamilyProfile `json:"profile"`
	AccuracyM float64              `json:"accuracy_m"`
}

func (k *KafkaProducer) PublishFamilyUpdate(u FamilyUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(u)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.Profile.ID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
