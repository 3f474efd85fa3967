package mycontext

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// CtxTraceContext is a context key for the trace context (used by mylog)
type CtxTraceContext struct{}

type ctxTransactionKey struct{}

type ctxActorKey struct{}

// Principal is the authenticated actor on whose behalf an operation runs.
type Principal struct {
	Username    string
	Authorities []string
}

func (p Principal) HasAuthority(authority string) bool {
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

func ContextFromHTTPRequest(r *http.Request) context.Context {
	var trace string

	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	traceContext := r.Header.Get("X-Cloud-Trace-Context")
	traceParts := strings.Split(traceContext, "/")

	if len(traceParts) > 0 && len(traceParts[0]) > 0 {
		trace = fmt.Sprintf("projects/%s/traces/%s", projectID, traceParts[0])
	}

	return context.WithValue(r.Context(), CtxTraceContext{}, trace)
}

func Trace(c context.Context) string {
	trace, _ := c.Value(CtxTraceContext{}).(string)
	return trace
}

// WithTransactionID binds all events published with the returned context to one business transaction.
func WithTransactionID(c context.Context, transactionID string) context.Context {
	return context.WithValue(c, ctxTransactionKey{}, transactionID)
}

func TransactionID(c context.Context) string {
	transactionID, _ := c.Value(ctxTransactionKey{}).(string)
	return transactionID
}

func WithActor(c context.Context, actor Principal) context.Context {
	return context.WithValue(c, ctxActorKey{}, actor)
}

func Actor(c context.Context) (Principal, bool) {
	actor, found := c.Value(ctxActorKey{}).(Principal)
	return actor, found
}
