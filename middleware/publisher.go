package middleware

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pannadata/consolidator/common"
	amqp "github.com/rabbitmq/amqp091-go"
)

const summaryRoutingKey = "run.summary"

// Channel is the subset of *amqp.Channel used to publish
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends unit outcomes and run summaries to a topic exchange.
type Publisher struct {
	channel  Channel
	exchange string
}

func NewPublisher(channel Channel, exchange string) *Publisher {
	return &Publisher{channel: channel, exchange: exchange}
}

// OutcomeRoutingKey returns "unit.<state>.<table>", lower-cased
func OutcomeRoutingKey(state, table string) string {
	return strings.ToLower(fmt.Sprintf("unit.%s.%s", state, table))
}

// PublishOutcome publishes the outcome of one consolidation unit
func (p *Publisher) PublishOutcome(ctx context.Context, state, table string, payload any) error {
	body, err := common.EncodeToByteArray(common.MessageTypeUnitOutcome, payload)
	if err != nil {
		return err
	}
	return p.publish(ctx, OutcomeRoutingKey(state, table), body)
}

// PublishSummary publishes the summary of a run
func (p *Publisher) PublishSummary(ctx context.Context, payload any) error {
	body, err := common.EncodeToByteArray(common.MessageTypeRunSummary, payload)
	if err != nil {
		return err
	}
	return p.publish(ctx, summaryRoutingKey, body)
}

func (p *Publisher) publish(ctx context.Context, rk string, body []byte) error {
	err := p.channel.PublishWithContext(ctx, p.exchange, rk, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		log.Printf("action: publish | result: fail | exchange: %s | routing_key: %s | error: %v", p.exchange, rk, err)
		return err
	}
	return nil
}

// NopPublisher drops every event. Used when RabbitMQ is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishOutcome(ctx context.Context, state, table string, payload any) error {
	return nil
}

func (NopPublisher) PublishSummary(ctx context.Context, payload any) error {
	return nil
}
