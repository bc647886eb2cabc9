package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"simtrader/internal/domain"
	"simtrader/internal/paper"
)

const (
	// StreamName is the JetStream stream name for order intents.
	StreamName = "SIMTRADER_ORDERS"
	// SubjectPrefix is the NATS subject prefix for order intents.
	SubjectPrefix = "simtrader.orders."
	// SubjectWildcard subscribes to all order subjects.
	SubjectWildcard = "simtrader.orders.>"
	// ConsumerName is the durable consumer name.
	ConsumerName = "simtrader-order-consumer"
)

// OrderSubmitter accepts order requests for one account.
type OrderSubmitter interface {
	ID() string
	CreateOrder(ctx context.Context, req paper.OrderRequest) (*domain.Order, error)
}

type disposition int

const (
	ack disposition = iota
	nak
	term
)

// Consumer subscribes to order intents via NATS JetStream and submits them
// to the paper account.
type Consumer struct {
	nc      *nats.Conn
	account OrderSubmitter
	logger  zerolog.Logger
}

// NewConsumer creates a new NATS order consumer.
func NewConsumer(nc *nats.Conn, account OrderSubmitter) *Consumer {
	return &Consumer{
		nc:      nc,
		account: account,
		logger:  log.With().Str("component", "ingest").Logger(),
	}
}

// Start begins consuming order intents. Blocks until context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectWildcard},
		Storage:    jetstream.FileStorage,
		MaxBytes:   100 * 1024 * 1024,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: SubjectPrefix + c.account.ID(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	c.logger.Info().Str("subject", SubjectPrefix+c.account.ID()).Msg("started consuming order intents from NATS JetStream")

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var ackErr error
		switch c.handle(ctx, msg.Subject(), msg.Data()) {
		case ack:
			ackErr = msg.Ack()
		case nak:
			ackErr = msg.Nak()
		case term:
			ackErr = msg.Term()
		}
		if ackErr != nil {
			c.logger.Warn().Err(ackErr).Str("subject", msg.Subject()).Msg("failed to acknowledge order message")
		}
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	c.logger.Info().Msg("stopped consuming order intents")
	return nil
}

// handle decides how a message is acknowledged. Malformed events and orders
// the engine rejects are terminated; transient failures are redelivered.
func (c *Consumer) handle(ctx context.Context, subject string, data []byte) disposition {
	var event OrderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn().Err(err).Str("subject", subject).Msg("failed to unmarshal order event, rejecting")
		return term
	}

	if err := event.Validate(); err != nil {
		c.logger.Warn().Err(err).
			Str("request_id", event.RequestID).
			Str("subject", subject).
			Msg("invalid order event, rejecting")
		return term
	}
	if event.AccountID != c.account.ID() {
		c.logger.Warn().
			Str("request_id", event.RequestID).
			Str("account_id", event.AccountID).
			Msg("order event for another account, rejecting")
		return term
	}

	req, err := event.ToRequest()
	if err != nil {
		c.logger.Warn().Err(err).Str("request_id", event.RequestID).Msg("failed to convert order event, rejecting")
		return term
	}

	order, err := c.account.CreateOrder(ctx, req)
	var rejectErr *domain.RejectError
	switch {
	case errors.As(err, &rejectErr):
		c.logger.Info().
			Str("request_id", event.RequestID).
			Str("symbol", req.Symbol).
			Str("reason", string(rejectErr.Reason)).
			Msg("order rejected")
		return term
	case errors.Is(err, paper.ErrClosed):
		return nak
	case err != nil:
		c.logger.Error().Err(err).Str("request_id", event.RequestID).Msg("failed to submit order")
		return nak
	}

	c.logger.Info().
		Str("request_id", event.RequestID).
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Int64("quantity", order.Quantity).
		Str("status", string(order.Status)).
		Msg("submitted order")
	return ack
}

// ConnectNATS connects to NATS with retry logic. Inline credentials take
// precedence over a credentials file.
func ConnectNATS(urls string, credsFile, creds string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("simtrader"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	switch {
	case creds != "":
		path, err := writeCreds(creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.UserCredentials(path))
	case credsFile != "":
		opts = append(opts, nats.UserCredentials(credsFile))
	}

	backoff := 100 * time.Millisecond
	maxBackoff := 30 * time.Second
	for attempt := 1; ; attempt++ {
		nc, err := nats.Connect(urls, opts...)
		if err == nil {
			log.Info().Str("url", nc.ConnectedUrl()).Int("attempt", attempt).Msg("connected to NATS")
			return nc, nil
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("failed to connect to NATS, retrying...")
		time.Sleep(backoff)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func writeCreds(creds string) (string, error) {
	f, err := os.CreateTemp("", "nats-creds-*.creds")
	if err != nil {
		return "", fmt.Errorf("create temp credentials file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(creds); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write credentials: %w", err)
	}
	return f.Name(), nil
}
