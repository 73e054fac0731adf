package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

func TestIsTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to model.SessionStatus
		want     bool
	}{
		{model.SessionInitializing, model.SessionWaitingForLogin, true},
		{model.SessionWaitingForLogin, model.SessionReady, true},
		{model.SessionReady, model.SessionScraping, true},
		{model.SessionScraping, model.SessionCompleted, true},
		{model.SessionInitializing, model.SessionFailed, true},
		{model.SessionWaitingForLogin, model.SessionFailed, true},
		{model.SessionReady, model.SessionFailed, true},
		{model.SessionScraping, model.SessionFailed, true},

		{model.SessionWaitingForLogin, model.SessionScraping, false},
		{model.SessionInitializing, model.SessionReady, false},
		{model.SessionReady, model.SessionWaitingForLogin, false},
		{model.SessionCompleted, model.SessionFailed, false},
		{model.SessionFailed, model.SessionReady, false},
		{model.SessionCompleted, model.SessionScraping, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransitionAllowed(tt.from, tt.to))
		})
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, checkTransition(model.SessionReady, model.SessionScraping))

	err := checkTransition(model.SessionFailed, model.SessionReady)
	assert.Equal(t, apperr.InvalidState, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "from failed to ready")
}
