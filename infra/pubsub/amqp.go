// Package pubsub builds watermill AMQP publishers and subscribers bound to
// topic exchanges.
package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Provider is the factory for broker clients sharing one broker URL.
type Provider interface {
	BuildPublisher(exchange string) (message.Publisher, error)
	BuildSubscriber(queue, exchange, routingKey string) (message.Subscriber, error)
}

type amqpProvider struct {
	url    string
	logger watermill.LoggerAdapter
}

func NewAMQPProvider(url string, logger watermill.LoggerAdapter) Provider {
	return &amqpProvider{url: url, logger: logger}
}

func topicExchange(name string) amqp.ExchangeConfig {
	return amqp.ExchangeConfig{
		GenerateName: func(string) string { return name },
		Type:         "topic",
		Durable:      true,
	}
}

// BuildPublisher publishes every message to exchange, using the watermill
// topic as the routing key.
func (p *amqpProvider) BuildPublisher(exchange string) (message.Publisher, error) {
	cfg := amqp.NewDurablePubSubConfig(p.url, nil)
	cfg.Exchange = topicExchange(exchange)
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	pub, err := amqp.NewPublisher(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher %s: %w", exchange, err)
	}
	return pub, nil
}

// BuildSubscriber declares a durable queue bound to exchange with routingKey.
func (p *amqpProvider) BuildSubscriber(queue, exchange, routingKey string) (message.Subscriber, error) {
	cfg := amqp.NewDurablePubSubConfig(p.url, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange = topicExchange(exchange)
	cfg.QueueBind.GenerateRoutingKey = func(string) string { return routingKey }

	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber %s: %w", queue, err)
	}
	return sub, nil
}
