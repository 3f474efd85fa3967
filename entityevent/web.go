package entityevent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MarcGrol/idmevents/lib/mycontext"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/myhttp"
)

func resumePath(uid string) string {
	return fmt.Sprintf("/entityevent/%s/resume", uid)
}

// RegisterEndpoints exposes the webhook that is called by queued tasks and the diagnostics of an
// event tree.
func (e *Engine) RegisterEndpoints(c context.Context, router *mux.Router) {
	router.HandleFunc("/entityevent/{uid}/resume", e.resumeTaskPage()).Methods("PUT")
	router.HandleFunc("/entityevent/{uid}/tree", e.eventTreePage()).Methods("GET")
}

type TreeResponse struct {
	RootID string
	Events []PersistedEvent
}

func (e *Engine) resumeTaskPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(e.logger)

		uid := mux.Vars(r)["uid"]
		if uid == "" {
			errorWriter.WriteError(c, w, 1, myerrors.NewInvalidInputErrorf("missing event uid"))
			return
		}

		err := e.ResumeDue(c, uid)
		if err != nil {
			// The failure is recorded on the event and a retry is queued when appropriate,
			// so the task itself must not be retried.
			errorWriter.Write(c, w, http.StatusOK, myhttp.ErrorResponse{
				ErrorCode:  2,
				ResultCode: myerrors.GetCode(err),
				Message:    err.Error(),
			})
			return
		}

		errorWriter.Write(c, w, http.StatusOK, myhttp.SuccessResponse{
			Message: fmt.Sprintf("Successfully resumed event %s", uid),
		})
	}
}

func (e *Engine) eventTreePage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(e.logger)

		rootID := mux.Vars(r)["uid"]

		events, err := e.EventTree(c, rootID)
		if err != nil {
			errorWriter.WriteError(c, w, 3, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, TreeResponse{
			RootID: rootID,
			Events: events,
		})
	}
}
