package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/config"
	"github.com/iliyamo/techland/internal/model"
)

// Consumer appends one line per checkout event to a daily rotated log.
type Consumer struct {
	cfg config.AMQPConfig
	log *zap.Logger
	out io.Writer
}

// NewConsumer opens the rotating writer under cfg.LogDir
// (checkout.YYYYMMDD.log, kept for 30 days, with checkout.log linked to
// the current file).
func NewConsumer(cfg config.AMQPConfig, log *zap.Logger) (*Consumer, error) {
	w, err := rotatelogs.New(
		filepath.Join(cfg.LogDir, "checkout.%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(cfg.LogDir, "checkout.log")),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(30*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open checkout log: %w", err)
	}
	return newConsumer(cfg, log, w), nil
}

func newConsumer(cfg config.AMQPConfig, log *zap.Logger, out io.Writer) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{cfg: cfg, log: log, out: out}
}

// Run dials the broker and consumes until ctx is cancelled, reconnecting
// with exponential backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn("checkout-consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("checkout-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("checkout-consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.log.Error("checkout-consumer: handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one event and writes its log line.
func (c *Consumer) Handle(body []byte) error {
	var ev CheckoutCompletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Reference == "" {
		return errors.New("event without reference")
	}
	if _, err := io.WriteString(c.out, FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders an event as a single human-readable line.
func FormatLine(ev CheckoutCompletedEvent) string {
	items := make([]string, 0, len(ev.Items))
	for _, it := range ev.Items {
		items = append(items, fmt.Sprintf("%s#%d x%d", it.Type, it.ID, it.Quantity))
	}
	order := "-"
	if ev.OrderID != 0 {
		order = fmt.Sprint(ev.OrderID)
	}
	return fmt.Sprintf("[%s] Checkout completed | reference=%s | user_id=%d | order_id=%s | method=%s | total=%s | items=[%s]\n",
		ev.CompletedAt, ev.Reference, ev.UserID, order, ev.PaymentMethod,
		model.FormatCents(ev.TotalCents), strings.Join(items, ","))
}
