package payments

import "errors"

var (
	// ErrAlreadyFinalized means a transition targeted a record that is
	// already in a different terminal status. The first terminal state
	// wins; there is no status flip after finalization.
	ErrAlreadyFinalized = errors.New("record already finalized in a different status")

	// ErrUnknownIntent means a webhook referenced a payment intent this
	// system never created.
	ErrUnknownIntent = errors.New("unknown payment intent reference")

	// ErrUnknownSubscription is the subscription-side counterpart of
	// ErrUnknownIntent.
	ErrUnknownSubscription = errors.New("unknown provider subscription id")

	// ErrPlanRequired is returned when a premium tier change arrives
	// without a plan reference.
	ErrPlanRequired = errors.New("premium tier requires a plan reference")
)
