package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher 外部消息发布
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

// KafkaPublisher 写入 kafka，按活动 id 分区
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Forwarder 把领域事件转发到外部 topic
type Forwarder struct {
	publisher Publisher
	topic     string
}

func NewForwarder(publisher Publisher, topic string) *Forwarder {
	return &Forwarder{publisher: publisher, topic: topic}
}

func (f *Forwarder) Process(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return f.publisher.Publish(ctx, f.topic, e.CampaignID, payload)
}

// RegisterForwarder 为所有事件类型注册转发
func RegisterForwarder(bus *Bus, f *Forwarder) {
	for _, t := range AllTypes() {
		bus.Register(t, f)
	}
}
