package mypubsub

import "context"

// PubSub carries provisioning requests and audit entries to the connectors and the SIEM.
//
//go:generate mockgen -source=pubsub_api.go -package mypubsub -destination pubsub_mock.go PubSub
type PubSub interface {
	Publish(c context.Context, topic string, data string) error
	// CreateTopic is idempotent.
	CreateTopic(c context.Context, topic string) error
	// Subscribe lets the topic push its messages to urlToPostTo.
	Subscribe(c context.Context, topic string, urlToPostTo string) error
}

// New is selected at init-time: google pubsub when GOOGLE_CLOUD_PROJECT is set, in-memory otherwise.
var New func(c context.Context) (PubSub, func(), error)
