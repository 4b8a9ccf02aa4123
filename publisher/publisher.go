// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/i-bosquet/petconnect/core"
	blog "github.com/i-bosquet/petconnect/log"
)

// AMQP topology constants.
const (
	AmqpExchange     = "petconnect"
	AmqpExchangeType = "topic"
	AmqpDurable      = true
	AmqpDeleteUnused = false
	AmqpInternal     = false
	AmqpNoWait       = false

	certGeneratedRoutingKey = "certificate.generated"
)

// AMQPPublisher delivers domain events to an AMQP exchange. Publication
// is best-effort: callers log failures and move on; a lost event never
// undoes the work that produced it.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	log     blog.Logger
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(serverURL string, logger blog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(serverURL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	err = channel.ExchangeDeclare(
		AmqpExchange,
		AmqpExchangeType,
		AmqpDurable,
		AmqpDeleteUnused,
		AmqpInternal,
		AmqpNoWait,
		nil)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	logger.Info(fmt.Sprintf("connected to AMQP exchange %q", AmqpExchange))
	return &AMQPPublisher{
		conn:    conn,
		channel: channel,
		log:     logger,
	}, nil
}

// PublishCertificateGenerated publishes a CertificateGenerated event as
// a JSON message.
func (pub *AMQPPublisher) PublishCertificateGenerated(ctx context.Context, event core.CertificateGeneratedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.channel.Publish(
		AmqpExchange,
		certGeneratedRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.OccurredAt,
			Body:        body,
		})
}

// Close shuts down the channel and connection.
func (pub *AMQPPublisher) Close() {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.channel != nil {
		_ = pub.channel.Close()
	}
	if pub.conn != nil {
		_ = pub.conn.Close()
	}
}

var _ core.EventPublisher = (*AMQPPublisher)(nil)
