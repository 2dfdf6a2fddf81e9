package cache

import (
	"fmt"
)

// Result is the outcome of GetPricing.
type Result int

const (
	// ResultUntradable means the item cannot be traded; no lookup is made.
	ResultUntradable Result = iota

	// ResultSuccessful means a cached quote is returned.
	ResultSuccessful

	// ResultNoPricing means nothing usable is cached and auto-refresh is off.
	ResultNoPricing

	// ResultQueued means a fetch was requested.
	ResultQueued

	// ResultAlreadyQueued means a fetch for the key is already in flight.
	ResultAlreadyQueued

	// ResultDisabled is never returned by GetPricing.
	ResultDisabled
)

var resultNames = map[Result]string{
	ResultUntradable:    "untradable",
	ResultSuccessful:    "successful",
	ResultNoPricing:     "no_pricing",
	ResultQueued:        "queued",
	ResultAlreadyQueued: "already_queued",
	ResultDisabled:      "disabled",
}

// String returns the result name.
func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// MarshalText renders the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
