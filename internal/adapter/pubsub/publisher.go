package pubsub

import (
	"github.com/ThreeDotsLabs/watermill/message"
	infrapubsub "github.com/webitel/roster-push-service/infra/pubsub"
)

type PublisherProvider struct {
	factory infrapubsub.Provider
}

func NewPublisherProvider(p infrapubsub.Provider) *PublisherProvider {
	return &PublisherProvider{factory: p}
}

func (pp *PublisherProvider) Build(exchange string) (message.Publisher, error) {
	return pp.factory.BuildPublisher(exchange)
}

type SubscriberProvider struct {
	factory infrapubsub.Provider
}

func NewSubscriberProvider(p infrapubsub.Provider) *SubscriberProvider {
	return &SubscriberProvider{factory: p}
}

// Build declares queue on the exchange and binds it with the routing pattern.
func (sp *SubscriberProvider) Build(queue, exchange, routingKey string) (message.Subscriber, error) {
	return sp.factory.BuildSubscriber(queue, exchange, routingKey)
}
