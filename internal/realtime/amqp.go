package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"carechat-service/internal/models"
	"carechat-service/internal/observability"
)

const messageRoutingPrefix = "messages."

// NewAMQPFeed layers RabbitMQ fan-out over the local broker so message
// inserts reach sessions on every instance. When AMQP is unreachable the
// broker alone is returned and the service stays single-instance.
func NewAMQPFeed(url, exchange string, broker *Broker, log *zap.Logger) Feed {
	if url == "" {
		log.Info("amqp feed disabled, broker only", zap.String("reason", "empty amqp url"))
		return broker
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		log.Warn("amqp feed disabled, broker only", zap.Error(err))
		return broker
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("amqp feed disabled, broker only", zap.Error(err))
		_ = conn.Close()
		return broker
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		log.Warn("amqp feed disabled, broker only", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return broker
	}

	feed := &amqpFeed{
		broker:   broker,
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		origin:   uuid.NewString(),
		log:      log,
	}

	if err := feed.consume(); err != nil {
		log.Warn("amqp feed disabled, broker only", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return broker
	}

	log.Info("amqp feed connected", zap.String("exchange", exchange))
	return feed
}

type amqpFeed struct {
	broker   *Broker
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	origin   string
	log      *zap.Logger
}

func (f *amqpFeed) Subscribe(conversationID string, fn func(models.Message)) (Subscription, error) {
	return f.broker.Subscribe(conversationID, fn)
}

func (f *amqpFeed) Publish(ctx context.Context, msg models.Message) error {
	if err := f.broker.Publish(ctx, msg); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = f.ch.PublishWithContext(ctx, f.exchange, messageRoutingPrefix+msg.ConversationID, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-origin": f.origin},
		Body:         body,
	})
	if err != nil {
		// Local sessions already got the message; remote fan-out is best effort.
		observability.IncAMQPPublishError()
		f.log.Warn("amqp publish failed", zap.Error(err))
	}
	return nil
}

func (f *amqpFeed) consume() error {
	q, err := f.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := f.ch.QueueBind(q.Name, messageRoutingPrefix+"#", f.exchange, false, nil); err != nil {
		return err
	}
	deliveries, err := f.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			if origin, ok := d.Headers["x-origin"].(string); ok && origin == f.origin {
				continue
			}
			var msg models.Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				f.log.Warn("amqp feed dropped malformed message", zap.Error(err))
				continue
			}
			_ = f.broker.Publish(context.Background(), msg)
		}
	}()
	return nil
}

// Close shuts the AMQP channel and connection down.
func (f *amqpFeed) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
