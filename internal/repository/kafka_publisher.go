package repository

import (
	"context"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	pkgkafka "WxEdge/pkg/kafka"
)

// KafkaSignalPublisher implements SignalPublisher for Kafka. Messages are
// keyed by bracket ticker so one bracket's signals stay ordered within a
// partition.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaSignalPublisher creates a Kafka-backed signal publisher.
func NewKafkaSignalPublisher(producer *pkgkafka.Producer, topic string) domrepo.SignalPublisher {
	return &KafkaSignalPublisher{producer: producer, topic: topic}
}

func signalPayload(s *models.TradingSignal) map[string]interface{} {
	return map[string]interface{}{
		"id":          s.ID,
		"ticker":      s.Bracket.Ticker,
		"subtitle":    s.Bracket.Subtitle,
		"side":        s.Side,
		"model_prob":  s.ModelProb,
		"market_prob": s.MarketProb,
		"edge":        s.Edge,
		"confidence":  s.Confidence,
		"reasoning":   s.Reasoning,
		"created_at":  s.CreatedAt.Unix(),
	}
}

func (p *KafkaSignalPublisher) Publish(ctx context.Context, s *models.TradingSignal) error {
	return p.producer.Publish(ctx, p.topic, []byte(s.Bracket.Ticker), signalPayload(s))
}

func (p *KafkaSignalPublisher) PublishBatch(ctx context.Context, signals []*models.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(signals))
	for i, s := range signals {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(s.Bracket.Ticker),
			Value: signalPayload(s),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
