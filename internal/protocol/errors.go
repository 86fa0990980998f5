package protocol

const (
	// Command validation.
	ErrInvalidNumeric   = "E_INVALID_NUMERIC"
	ErrUnknownEntity    = "E_UNKNOWN_ENTITY"
	ErrCapacityExceeded = "E_CAPACITY_EXCEEDED"
	ErrRateLimited      = "E_RATE_LIMITED"
	ErrEmptyText        = "E_EMPTY_TEXT"
	ErrInvalidCommand   = "E_INVALID_COMMAND"
	ErrQueueFull        = "E_QUEUE_FULL"

	// Wire/transport.
	ErrOversizedMessage = "E_OVERSIZED_MESSAGE"
	ErrMalformedMessage = "E_MALFORMED_MESSAGE"
	ErrSendFailure      = "E_SEND_FAILURE"
	ErrRelayUnavailable = "E_RELAY_UNAVAILABLE"

	// Session binding.
	ErrAlreadyBound = "E_ALREADY_BOUND"
	ErrNotBound     = "E_NOT_BOUND"
	ErrNotFound     = "E_NOT_FOUND"
)

var knownCodes = map[string]struct{}{
	ErrInvalidNumeric:   {},
	ErrUnknownEntity:    {},
	ErrCapacityExceeded: {},
	ErrRateLimited:      {},
	ErrEmptyText:        {},
	ErrInvalidCommand:   {},
	ErrQueueFull:        {},
	ErrOversizedMessage: {},
	ErrMalformedMessage: {},
	ErrSendFailure:      {},
	ErrRelayUnavailable: {},
	ErrAlreadyBound:     {},
	ErrNotBound:         {},
	ErrNotFound:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
