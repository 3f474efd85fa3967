package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/myevents"
	"github.com/MarcGrol/idmevents/lib/mypublisher"
	"github.com/MarcGrol/idmevents/lib/mypubsub"
	"github.com/MarcGrol/idmevents/lib/myqueue"
	"github.com/MarcGrol/idmevents/lib/mystore"
	"github.com/MarcGrol/idmevents/lib/mytime"
	"github.com/MarcGrol/idmevents/lib/myuuid"
	"github.com/MarcGrol/idmevents/services/idm"
	"github.com/MarcGrol/idmevents/services/warmup"
)

func main() {
	c := context.Background()

	router := mux.NewRouter()
	nower := mytime.RealNower{}
	uuider := myuuid.RealUUIDer{}

	pubsub, pubsubCleanup, err := mypubsub.New(c)
	if err != nil {
		log.Fatalf("Error creating pubsub: %s", err)
	}
	defer pubsubCleanup()

	queue, queueCleanup, err := myqueue.New(c)
	if err != nil {
		log.Fatalf("Error creating queue: %s", err)
	}
	defer queueCleanup()

	outboxStore, outboxStoreCleanup, err := mystore.New[myevents.EventEnvelope](c)
	if err != nil {
		log.Fatalf("Error creating outbox store: %s", err)
	}
	defer outboxStoreCleanup()

	publisher := mypublisher.New(outboxStore, pubsub, queue, nower)
	publisher.RegisterEndpoints(c, router)

	eventStore, eventStoreCleanup, err := mystore.New[entityevent.PersistedEvent](c)
	if err != nil {
		log.Fatalf("Error creating event store: %s", err)
	}
	defer eventStoreCleanup()

	config, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading event configuration: %s", err)
	}

	events := entityevent.NewEventStore(eventStore)
	warmup.NewService(events, nower).RegisterEndpoints(c, router)

	engine := entityevent.NewEngine(entityevent.NewRegistry(config), events, nower, uuider,
		entityevent.WithConfig(config),
		entityevent.WithQueue(queue),
		entityevent.WithAuthorizer(entityevent.NewAuthorityAuthorizer()),
		entityevent.WithAuditSink(entityevent.NewPublisherAuditSink(publisher)))
	engine.RegisterEndpoints(c, router)

	stores, storesCleanup, err := idm.NewStores(c)
	if err != nil {
		log.Fatalf("Error creating idm stores: %s", err)
	}
	defer storesCleanup()

	idmService, err := idm.NewService(engine, stores, publisher, nower, uuider)
	if err != nil {
		log.Fatalf("Error creating idm service: %s", err)
	}
	err = idmService.RegisterEndpoints(c, router, publisher)
	if err != nil {
		log.Fatalf("Error registering idm endpoints: %s", err)
	}

	scheduler := entityevent.NewScheduler(engine)
	go func() {
		err := scheduler.Run(c)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Scheduler stopped: %s", err)
		}
	}()

	startWebServerBlocking(router)
}

// loadConfig reads EVENT_CONFIG_FILE when set; the environment has the last word.
func loadConfig() (entityevent.Config, error) {
	config := entityevent.DefaultConfig()
	if path := os.Getenv("EVENT_CONFIG_FILE"); path != "" {
		var err error
		config, err = entityevent.ConfigFromFile(path)
		if err != nil {
			return entityevent.Config{}, err
		}
	}
	return config.WithEnvironment(), nil
}

func startWebServerBlocking(router *mux.Router) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting webserver on port %s (try http://localhost:%s)", port, port)
	err := http.ListenAndServe(fmt.Sprintf(":%s", port), router)
	if err != nil {
		log.Fatalf("Error starting webserver on port %s: %s", port, err)
	}
}
