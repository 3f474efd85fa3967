package mypublisher

import (
	"context"

	"github.com/MarcGrol/idmevents/lib/myevents"
)

// Publisher stores messages in the unit of work of the caller: they only leave when it commits.
//
//go:generate mockgen -source=api.go -package mypublisher -destination publisher_mock.go Publisher
type Publisher interface {
	CreateTopic(c context.Context, topic string) error
	Publish(c context.Context, topic string, event myevents.Event) error
}
