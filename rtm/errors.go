package rtm

import "fmt"

// Error tags describing each failure kind raised by the client stack.
const (
	UnknownError = iota + 1

	NotConnectedError

	ResponseParsingError

	InvalidResponseError

	SubscriptionError

	SubscribeError

	UnsubscribeError

	TransportError

	InvalidMessageError

	PublishError
)

func errorName(code int) string {
	switch code {
	case UnknownError:
		return "UnknownError"
	case NotConnectedError:
		return "NotConnectedError"
	case ResponseParsingError:
		return "ResponseParsingError"
	case InvalidResponseError:
		return "InvalidResponseError"
	case SubscriptionError:
		return "SubscriptionError"
	case SubscribeError:
		return "SubscribeError"
	case UnsubscribeError:
		return "UnsubscribeError"
	case TransportError:
		return "TransportError"
	case InvalidMessageError:
		return "InvalidMessageError"
	case PublishError:
		return "PublishError"
	default:
		return "UnknownError"
	}
}

// ErrorCondition is a tagged failure description. Equality is by tag only so
// callers can branch on the taxonomy while logging the message text for
// diagnostics.
type ErrorCondition struct {
	code    int
	message string
}

// NewErrorCondition returns a condition tagged with code. Extra arguments are
// rendered into the message text.
func NewErrorCondition(code int, message ...interface{}) ErrorCondition {
	if code < UnknownError || code > PublishError {
		code = UnknownError
	}
	condition := ErrorCondition{code: code}
	if len(message) > 0 {
		condition.message = fmt.Sprint(message...)
	}
	return condition
}

// Code returns the error tag.
func (condition ErrorCondition) Code() int {
	return condition.code
}

// Message returns the diagnostic text, which is not part of equality.
func (condition ErrorCondition) Message() string {
	return condition.message
}

func (condition ErrorCondition) Error() string {
	if condition.message == "" {
		return errorName(condition.code)
	}
	return fmt.Sprintf("%s: %s", errorName(condition.code), condition.message)
}

// Is reports tag equality, so errors.Is matches two conditions with the same
// tag regardless of message text.
func (condition ErrorCondition) Is(target error) bool {
	other, ok := target.(ErrorCondition)
	if !ok {
		if pointer, isPointer := target.(*ErrorCondition); isPointer && pointer != nil {
			other = *pointer
			ok = true
		}
	}
	return ok && other.code == condition.code
}

// Equal reports tag equality with another condition.
func (condition ErrorCondition) Equal(other ErrorCondition) bool {
	return condition.code == other.code
}

func conditionPointer(code int, message ...interface{}) *ErrorCondition {
	condition := NewErrorCondition(code, message...)
	return &condition
}
