package entityevent

import (
	"context"
	"slices"
)

// DefaultOrder is the order of processors that do not care; validations typically run below it,
// notifications above it.
const DefaultOrder = 0

// Processor is one independently registered unit of business logic in the chain of a content
// type. Returning an error aborts the chain and the error reaches the publisher unchanged.
type Processor[T Content] interface {
	Name() string
	Order() int
	EventTypes() []EventType
	Supports(event *EntityEvent[T]) bool
	// Conditional lets a processor skip itself without being removed from the chain.
	Conditional(event *EntityEvent[T]) bool
	IsDisableable() bool
	// IsClosable processors close the event once they have run.
	IsClosable() bool
	Process(c context.Context, event *EntityEvent[T]) (EventResult[T], error)
}

// BaseProcessor provides the descriptor part of a Processor. Embed it and implement Process.
type BaseProcessor[T Content] struct {
	name        string
	order       int
	eventTypes  []EventType
	disableable bool
	closable    bool
}

// NewBaseProcessor describes a processor for the given event types; no types means all types.
func NewBaseProcessor[T Content](name string, order int, eventTypes ...EventType) BaseProcessor[T] {
	return BaseProcessor[T]{
		name:        name,
		order:       order,
		eventTypes:  eventTypes,
		disableable: true,
	}
}

func (p BaseProcessor[T]) NotDisableable() BaseProcessor[T] {
	p.disableable = false
	return p
}

func (p BaseProcessor[T]) Closing() BaseProcessor[T] {
	p.closable = true
	return p
}

func (p BaseProcessor[T]) Name() string {
	return p.name
}

func (p BaseProcessor[T]) Order() int {
	return p.order
}

func (p BaseProcessor[T]) EventTypes() []EventType {
	return slices.Clone(p.eventTypes)
}

func (p BaseProcessor[T]) Supports(event *EntityEvent[T]) bool {
	return len(p.eventTypes) == 0 || slices.Contains(p.eventTypes, event.Type)
}

func (p BaseProcessor[T]) Conditional(event *EntityEvent[T]) bool {
	return true
}

func (p BaseProcessor[T]) IsDisableable() bool {
	return p.disableable
}

func (p BaseProcessor[T]) IsClosable() bool {
	return p.closable
}

type ProcessFunc[T Content] func(c context.Context, event *EntityEvent[T]) (EventResult[T], error)

type ConditionFunc[T Content] func(event *EntityEvent[T]) bool

type funcProcessor[T Content] struct {
	BaseProcessor[T]
	process   ProcessFunc[T]
	condition ConditionFunc[T]
}

// NewProcessor is a convenience to register an inline func as a Processor.
func NewProcessor[T Content](base BaseProcessor[T], process ProcessFunc[T]) Processor[T] {
	return &funcProcessor[T]{
		BaseProcessor: base,
		process:       process,
	}
}

// NewConditionalProcessor only runs process when condition holds for the event.
func NewConditionalProcessor[T Content](base BaseProcessor[T], condition ConditionFunc[T], process ProcessFunc[T]) Processor[T] {
	return &funcProcessor[T]{
		BaseProcessor: base,
		process:       process,
		condition:     condition,
	}
}

func (p *funcProcessor[T]) Conditional(event *EntityEvent[T]) bool {
	if p.condition == nil {
		return true
	}
	return p.condition(event)
}

func (p *funcProcessor[T]) Process(c context.Context, event *EntityEvent[T]) (EventResult[T], error) {
	return p.process(c, event)
}
