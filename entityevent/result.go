package entityevent

import (
	"github.com/MarcGrol/idmevents/lib/myerrors"
)

type OperationState string

const (
	OperationStateCreated     OperationState = "CREATED"
	OperationStateExecuted    OperationState = "EXECUTED"
	OperationStateNotExecuted OperationState = "NOT_EXECUTED"
	OperationStateException   OperationState = "EXCEPTION"
)

// OperationResult reports the outcome of one operation a processor performed, e.g. one removed
// dependent in a cascade.
type OperationResult struct {
	State  OperationState
	Code   string
	Params map[string]any
	Cause  string
}

func NewOperationResult(state OperationState, code string, params map[string]any) OperationResult {
	return OperationResult{
		State:  state,
		Code:   code,
		Params: params,
	}
}

func NewExceptionResult(err error) OperationResult {
	return OperationResult{
		State:  OperationStateException,
		Code:   myerrors.GetCode(err),
		Params: myerrors.GetParams(err),
		Cause:  err.Error(),
	}
}

// EventResult is returned by a processor. The dispatcher stamps it with the name and order of the
// processor that produced it.
type EventResult[T Content] struct {
	Event          *EntityEvent[T]
	Processor      string
	Closed         bool
	Suspended      bool
	ProcessedOrder int
	Results        []OperationResult
}

// Continue lets the chain proceed with the next processor.
func Continue[T Content](event *EntityEvent[T], results ...OperationResult) EventResult[T] {
	return EventResult[T]{
		Event:   event,
		Results: results,
	}
}

// Close ends the chain without error; no processor with a higher order runs.
func Close[T Content](event *EntityEvent[T], results ...OperationResult) EventResult[T] {
	return EventResult[T]{
		Event:   event,
		Closed:  true,
		Results: results,
	}
}

// Suspend pauses the chain; the event is persisted and can be resumed later.
func Suspend[T Content](event *EntityEvent[T], results ...OperationResult) EventResult[T] {
	return EventResult[T]{
		Event:     event,
		Suspended: true,
		Results:   results,
	}
}

// EventContext collects the results of one dispatch in processing order.
type EventContext[T Content] struct {
	results          []EventResult[T]
	alreadyProcessed bool
}

func (c *EventContext[T]) add(result EventResult[T]) {
	c.results = append(c.results, result)
}

func (c *EventContext[T]) Results() []EventResult[T] {
	return append([]EventResult[T]{}, c.results...)
}

func (c *EventContext[T]) LastResult() (EventResult[T], bool) {
	if len(c.results) == 0 {
		return EventResult[T]{}, false
	}
	return c.results[len(c.results)-1], true
}

// Content is the content of the last result: the new state of the entity.
func (c *EventContext[T]) Content() T {
	last, found := c.LastResult()
	if !found || last.Event == nil {
		var zero T
		return zero
	}
	return last.Event.Content
}

func (c *EventContext[T]) IsClosed() bool {
	last, found := c.LastResult()
	return found && last.Closed
}

func (c *EventContext[T]) IsSuspended() bool {
	last, found := c.LastResult()
	return found && last.Suspended
}

func (c *EventContext[T]) ProcessedOrder() (int, bool) {
	last, found := c.LastResult()
	if !found {
		return 0, false
	}
	return last.ProcessedOrder, true
}

// IsAlreadyProcessed tells that a resumed event no longer existed or was already closed.
func (c *EventContext[T]) IsAlreadyProcessed() bool {
	return c.alreadyProcessed
}
