package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"oddsharvest/identity"
	"oddsharvest/models"
)

// MarketSettled is emitted once per market when its fixture completes
type MarketSettled struct {
	FixtureID  string               `json:"fixture_id"`
	MarketID   string               `json:"market_id"`
	Key        models.MarketKey     `json:"key"`
	Descriptor models.BetDescriptor `json:"descriptor"`
	Result     models.MarketResult  `json:"result"`
	Score      *models.ScorePair    `json:"score"`
	Books      []models.BookOdds    `json:"books"`
	SettledAt  time.Time            `json:"settled_at"`
}

// messageWriter is the part of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

// NewKafkaPublisher creates a publisher for a comma separated broker list
func NewKafkaPublisher(brokers string, topic string, log *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(brokers)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaPublisher{writer: writer, log: log}
}

// NewMarketSettled builds the event for a settled market record
func NewMarketSettled(fx *models.Fixture, rec models.MarketRecord, at time.Time) MarketSettled {
	ev := MarketSettled{
		FixtureID:  fx.ID,
		MarketID:   identity.MarketFingerprint(rec.Key),
		Key:        rec.Key,
		Descriptor: rec.Descriptor,
		Books:      rec.Books,
		SettledAt:  at,
	}
	if rec.Result != nil {
		ev.Result = *rec.Result
	}
	ev.Score = fx.Score.ForScope(rec.Key.Scope)
	return ev
}

// Publish writes the events in one batch, keyed by fixture so a fixture's markets share a partition
func (p *KafkaPublisher) Publish(ctx context.Context, events []MarketSettled) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.FixtureID),
			Value: value,
			Time:  e.SettledAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("failed to publish settled markets", zap.Int("count", len(msgs)), zap.Error(err))
		return err
	}

	p.log.Debug("published settled markets", zap.String("fixture", events[0].FixtureID), zap.Int("count", len(msgs)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
