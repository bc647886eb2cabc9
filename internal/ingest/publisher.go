package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"simtrader/internal/domain"
)

const (
	// FillStreamName is the JetStream stream name for fills.
	FillStreamName = "SIMTRADER_FILLS"
	// FillSubjectPrefix is the NATS subject prefix for fills; the symbol follows.
	FillSubjectPrefix = "simtrader.fills."
)

// Publisher announces fills on JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates the fill stream if needed and returns a Publisher.
func NewPublisher(ctx context.Context, nc *nats.Conn) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       FillStreamName,
		Subjects:   []string{FillSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		MaxBytes:   100 * 1024 * 1024,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return &Publisher{js: js}, nil
}

// PublishFill publishes one fill to simtrader.fills.<symbol>. The order id is
// the message id, so a retried publish is deduplicated by the server.
func (p *Publisher) PublishFill(ctx context.Context, accountID string, fill domain.FillReport) error {
	data, err := json.Marshal(FillEvent{AccountID: accountID, Fill: fill})
	if err != nil {
		return fmt.Errorf("marshal fill: %w", err)
	}
	if _, err := p.js.Publish(ctx, FillSubjectPrefix+fill.Symbol, data, jetstream.WithMsgID(fill.OrderID)); err != nil {
		return fmt.Errorf("publish fill: %w", err)
	}
	return nil
}
