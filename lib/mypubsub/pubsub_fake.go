package mypubsub

import (
	"context"
	"os"
	"sync"
)

// InMemoryPubSub remembers what was published per topic.
type InMemoryPubSub struct {
	sync.Mutex
	topics    map[string][]string
	endpoints map[string][]string
}

func init() {
	if os.Getenv("GOOGLE_CLOUD_PROJECT") == "" {
		New = newFakePubSub
	}
}

func newFakePubSub(c context.Context) (PubSub, func(), error) {
	return NewInMemoryPubSub(), func() {}, nil
}

func NewInMemoryPubSub() *InMemoryPubSub {
	return &InMemoryPubSub{
		topics:    map[string][]string{},
		endpoints: map[string][]string{},
	}
}

func (ps *InMemoryPubSub) Subscribe(c context.Context, topic string, urlToPostTo string) error {
	ps.Lock()
	defer ps.Unlock()

	ps.endpoints[topic] = append(ps.endpoints[topic], urlToPostTo)
	return nil
}

func (ps *InMemoryPubSub) CreateTopic(c context.Context, topic string) error {
	ps.Lock()
	defer ps.Unlock()

	if _, exists := ps.topics[topic]; !exists {
		ps.topics[topic] = []string{}
	}
	return nil
}

func (ps *InMemoryPubSub) Publish(c context.Context, topic string, data string) error {
	ps.Lock()
	defer ps.Unlock()

	ps.topics[topic] = append(ps.topics[topic], data)
	return nil
}

func (ps *InMemoryPubSub) Published(topic string) []string {
	ps.Lock()
	defer ps.Unlock()

	return append([]string{}, ps.topics[topic]...)
}
