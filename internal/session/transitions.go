// Package session runs the scraping session state machine.
//
// Valid status graph:
//
//	initializing ──► waiting_for_login ──► ready ──► scraping ──► completed
//	     │                  │                │           │
//	     └──────────────────┴────────────────┴───────────┴──► failed
//
// completed and failed are terminal.
package session

import (
	"fmt"
	"slices"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

var validTransitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionInitializing:    {model.SessionWaitingForLogin, model.SessionFailed},
	model.SessionWaitingForLogin: {model.SessionReady, model.SessionFailed},
	model.SessionReady:           {model.SessionScraping, model.SessionFailed},
	model.SessionScraping:        {model.SessionCompleted, model.SessionFailed},
}

// IsTransitionAllowed reports whether a session may move from → to.
func IsTransitionAllowed(from, to model.SessionStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

func checkTransition(from, to model.SessionStatus) error {
	if IsTransitionAllowed(from, to) {
		return nil
	}
	return apperr.New(apperr.InvalidState, fmt.Sprintf("cannot move session from %s to %s", from, to))
}
