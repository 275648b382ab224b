package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"mediaPipeline/api/models"
)

// Producer publishes task lifecycle events. It satisfies scheduler.Publisher.
type Producer interface {
	Publish(ctx context.Context, events []models.TaskEvent) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return newProducer(p, topic), nil
}

func newProducer(p sarama.SyncProducer, topic string) *producer {
	return &producer{producer: p, topic: topic}
}

// Publish sends the batch keyed by task id so every event of a task lands on
// the same partition in order.
func (p *producer) Publish(ctx context.Context, events []models.TaskEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event for task %s: %w", event.TaskID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(event.TaskID),
			Value: sarama.ByteEncoder(data),
		})
	}

	if len(msgs) == 1 {
		_, _, err := p.producer.SendMessage(msgs[0])
		return err
	}
	return p.producer.SendMessages(msgs)
}

func (p *producer) Close() error {
	return p.producer.Close()
}
