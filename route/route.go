// Package route maps a declared engagement intent onto the transition
// event that selects the call path. Pure logic, no persistence, no
// side effects.
package route

import (
	"fmt"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
)

// Select returns the transition event for the given intent. Unknown
// intents fail with canvass.ErrValidation; routing never guesses a
// default path.
func Select(intent execution.Intent) (execution.Event, error) {
	switch intent {
	case execution.IntentInspector:
		return execution.EventRoutedInspector, nil
	case execution.IntentNegotiator:
		return execution.EventRoutedNegotiator, nil
	default:
		return "", fmt.Errorf("%w: unknown intent %q", canvass.ErrValidation, intent)
	}
}

// Mode returns the call script mode for the intent. Callers must have
// validated the intent via Select first.
func Mode(intent execution.Intent) collab.CallMode {
	if intent == execution.IntentNegotiator {
		return collab.ModeNegotiation
	}
	return collab.ModeInspection
}
