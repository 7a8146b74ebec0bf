// Package transport builds the publisher/subscriber pairs a robot router
// consumes request envelopes from and publishes responses to.
package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Transport combines a publisher and subscriber pair.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides. A shared pub/sub is closed once.
func (t Transport) Close() error {
	var err error
	if t.Publisher != nil {
		err = t.Publisher.Close()
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if subErr := t.Subscriber.Close(); err == nil {
			err = subErr
		}
	}
	return err
}

// GoChannelFactory builds the in-process pub/sub. Tests replace it to inject
// failures.
var GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Channel returns an in-memory transport. Messages are delivered only to
// subscribers that exist when they are published.
func Channel(logger watermill.LoggerAdapter) Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pub, sub := GoChannelFactory(gochannel.Config{}, logger)
	return Transport{Publisher: pub, Subscriber: sub}
}
