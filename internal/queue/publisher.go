package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/config"
)

// Publisher sends checkout events to RabbitMQ. It dials per publish, which
// suits the low rate of checkouts and survives broker restarts without a
// reconnect loop. Errors are logged and returned so the caller can ignore
// them without interrupting the request.
type Publisher struct {
	cfg config.AMQPConfig
	log *zap.Logger
}

func NewPublisher(cfg config.AMQPConfig, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{cfg: cfg, log: log}
}

// dialTimeout bounds the TCP dial and the AMQP handshake when ctx has no
// deadline of its own.
const dialTimeout = 5 * time.Second

func dialContext(ctx context.Context, url string) (*amqp.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// PublishCheckoutCompleted publishes ev to the durable checkout queue as a
// persistent message.
func (p *Publisher) PublishCheckoutCompleted(ctx context.Context, ev CheckoutCompletedEvent) error {
	if !p.cfg.Enabled {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("rabbitmq: marshal event failed", zap.Error(err))
		return err
	}

	conn, err := dialContext(ctx, p.cfg.URL)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()
	// Closing the connection unblocks channel and declare calls that would
	// otherwise wait on a silent broker past the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.cfg.Queue, true, false, false, false, nil); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", zap.String("queue", p.cfg.Queue), zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.Reference,
		Type:         "checkout.completed",
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.String("reference", ev.Reference), zap.Error(err))
		return err
	}
	return nil
}
