package telegram

import "time"

// Request outcomes reported to Hooks.OnRequest.
const (
	OutcomeOK        = "ok"
	OutcomeAPIError  = "api_error"
	OutcomeNetwork   = "network_error"
	OutcomeMalformed = "malformed"
	OutcomeTooLarge  = "too_large"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

// Hooks observe client traffic. Any field may be nil.
type Hooks struct {
	OnRequest  func(method, outcome string, elapsed time.Duration)
	OnRetry    func(method string, err error, delay time.Duration)
	OnInFlight func(n int64)
}

func outcomeOf(err error) string {
	switch err.(type) {
	case nil:
		return OutcomeOK
	case *APIError:
		return OutcomeAPIError
	case *NetworkError:
		return OutcomeNetwork
	case *MalformedResponseError:
		return OutcomeMalformed
	case *PayloadTooLargeError:
		return OutcomeTooLarge
	default:
		if isContextErr(err) {
			return OutcomeCanceled
		}
		return OutcomeError
	}
}
