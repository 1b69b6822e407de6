package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"shipping-escrow/internal/domain"
)

const (
	ExchangeName = "shipping_oracle"
	ExchangeType = "topic"
	ResultQueue  = "shipping_oracle.results"

	requestKeyPrefix = "request."
	resultBinding    = "result.#"
)

// SetupConn dials the broker and declares the oracle exchange.
func SetupConn(url string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		slog.Warn("failed to connect to RabbitMQ", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

type publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher returns a Client that publishes requests to the oracle exchange
// under request.<jobId>, with the request id as the AMQP correlation id.
func NewPublisher(ch *amqp.Channel) Client {
	return &publisher{ch: ch}
}

func (p *publisher) Send(ctx context.Context, req domain.VerificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("could not marshal verification request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx,
		ExchangeName,               // exchange
		requestKeyPrefix+req.JobID, // routing key
		false,                      // mandatory
		false,                      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: req.RequestID,
			MessageId:     req.RequestID,
			ReplyTo:       ResultQueue,
			Timestamp:     time.Now().UTC(),
			Body:          body,
		},
	)
}

// ResultSubscriber consumes signed verification results.
type ResultSubscriber struct {
	ch     *amqp.Channel
	secret string
}

func NewResultSubscriber(ch *amqp.Channel, secret string) *ResultSubscriber {
	return &ResultSubscriber{ch: ch, secret: secret}
}

// Run consumes until ctx is cancelled or the channel closes. Results that are
// rejected by the engine are acknowledged and dropped; other failures are
// requeued.
func (s *ResultSubscriber) Run(ctx context.Context, handle ResultHandler) error {
	q, err := s.ch.QueueDeclare(
		ResultQueue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("could not declare queue: %w", err)
	}

	if err := s.ch.QueueBind(q.Name, resultBinding, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("could not bind queue: %w", err)
	}

	if err := s.ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("could not set qos: %w", err)
	}

	msgs, err := s.ch.Consume(
		q.Name,    // queue
		"escrowd", // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("could not start consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("oracle result channel closed")
			}
			s.deliver(ctx, d, handle)
		}
	}
}

func (s *ResultSubscriber) deliver(ctx context.Context, d amqp.Delivery, handle ResultHandler) {
	signature, _ := d.Headers[amqpSignature].(string)
	if !VerifySignature(s.secret, d.Body, signature) {
		slog.Warn("dropping oracle result with bad signature", "message_id", d.MessageId)
		_ = d.Reject(false)
		return
	}

	var result domain.VerificationResult
	if err := json.Unmarshal(d.Body, &result); err != nil {
		slog.Warn("dropping malformed oracle result", "message_id", d.MessageId, "error", err)
		_ = d.Reject(false)
		return
	}
	if result.RequestID == "" {
		result.RequestID = d.CorrelationId
	}

	err := handle(ctx, result)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case Rejected(err):
		slog.Warn("oracle result rejected", "request_id", result.RequestID, "error", err)
		_ = d.Ack(false)
	default:
		slog.Error("oracle result not applied, requeueing", "request_id", result.RequestID, "error", err)
		_ = d.Nack(false, true)
	}
}

// Rejected reports whether err is a final verdict on a result, as opposed to
// a failure worth retrying.
func Rejected(err error) bool {
	return errors.Is(err, domain.ErrUnknownRequest) ||
		errors.Is(err, domain.ErrUnknownOutcome) ||
		errors.Is(err, domain.ErrInvalidOrderState)
}

// PublishResult publishes a signed result the way an oracle node answers. The
// simulator and integration tooling use it.
func PublishResult(ctx context.Context, ch *amqp.Channel, secret string, result domain.VerificationResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("could not marshal verification result: %w", err)
	}
	return ch.PublishWithContext(ctx, ExchangeName, "result."+result.RequestID, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: result.RequestID,
		Headers:       amqp.Table{amqpSignature: Sign(secret, body)},
		Body:          body,
	})
}
