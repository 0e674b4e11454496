// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange incidents are published to.
const DefaultExchange = "quickauth.security"

// DefaultPublishTimeout bounds a single broker publish.
const DefaultPublishTimeout = 5 * time.Second

// Publisher is the part of *amqp.Channel the AMQP sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes incidents as JSON to a RabbitMQ topic exchange with
// routing key "security.incident.<type>".
type AMQPSink struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	publisher Publisher
	exchange  string
	timeout   time.Duration
}

// NewAMQPSink wraps an existing publisher. The exchange must already exist.
func NewAMQPSink(publisher Publisher, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSink{publisher: publisher, exchange: exchange, timeout: DefaultPublishTimeout}
}

// SetPublishTimeout overrides DefaultPublishTimeout. Non-positive values
// are ignored.
func (s *AMQPSink) SetPublishTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// DialAMQP connects to the broker, opens a channel and declares a durable
// topic exchange.
func DialAMQP(rawURL, exchange string) (*AMQPSink, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("incident: dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("incident: open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("incident: declare exchange: %w", err)
	}

	return &AMQPSink{conn: conn, channel: channel, publisher: channel, exchange: exchange, timeout: DefaultPublishTimeout}, nil
}

// Publish implements Sink.
func (s *AMQPSink) Publish(ctx context.Context, inc *Incident) error {
	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("incident: encode: %w", err)
	}
	timeout := s.timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = s.publisher.PublishWithContext(ctx,
		s.exchange,           // exchange
		RoutingKey(inc.Type), // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    inc.ID,
			Timestamp:    inc.OccurredAt,
			Type:         string(inc.Type),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("incident: publish: %w", err)
	}
	return nil
}

// Close closes the channel and connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	var errs []error
	if s.channel != nil {
		errs = append(errs, s.channel.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}

// RoutingKey returns the routing key for an incident type.
func RoutingKey(t Type) string {
	return "security.incident." + strings.ToLower(string(t))
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("incident: AMQP URL is required")
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("incident: parse AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("incident: AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
