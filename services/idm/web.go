package idm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MarcGrol/idmevents/lib/mycontext"
	"github.com/MarcGrol/idmevents/lib/myhttp"
	"github.com/MarcGrol/idmevents/lib/mypublisher"
)

const removeExpiredProtectionPath = "/idm/tasks/remove-expired-protection"

// RegisterEndpoints exposes the scheduled tasks of the service and creates the topics it publishes on.
func (s *Service) RegisterEndpoints(c context.Context, router *mux.Router, publisher mypublisher.Publisher) error {
	router.HandleFunc(removeExpiredProtectionPath, s.removeExpiredProtectionTask()).Methods("PUT", "GET")

	return s.CreateTopics(c, publisher)
}

func (s *Service) removeExpiredProtectionTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		removed, err := s.RemoveExpiredProtection(c)
		if err != nil {
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, myhttp.SuccessResponse{
			Message: fmt.Sprintf("Successfully removed %d accounts with expired protection", removed),
		})
	}
}
