package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher submits scan requests to the scraping pipeline over Kafka.
type Publisher struct {
	w   messageWriter
	now func() time.Time
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{w: w, now: time.Now}
}

// Trigger writes a ScanRequest keyed by website id so requests for one
// source stay ordered on a single partition.
func (p *Publisher) Trigger(ctx context.Context, site models.Website) (string, error) {
	req := models.ScanRequest{
		ID:          uuid.NewString(),
		WebsiteID:   site.ID,
		Name:        site.Name,
		URL:         site.URL,
		RequestedAt: p.now().UTC(),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal scan request: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(site.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "request_id", Value: []byte(req.ID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish scan request for %s: %w", site.ID, err)
	}
	return req.ID, nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
