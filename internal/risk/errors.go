package risk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	// ErrorInvalidTarget: malformed reference for its kind. Fatal, no retry,
	// no backend is invoked.
	ErrorInvalidTarget ErrorKind = "invalid_target"

	// ErrorTimeout: one bounded operation exceeded its deadline. Inside the
	// dispatcher this triggers fallback; in a batch it is recorded per target.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorBothPathsFailed: the model path and the rule path both failed.
	ErrorBothPathsFailed ErrorKind = "both_paths_failed"

	// ErrorInvalidDepth: relation traversal depth out of bounds.
	ErrorInvalidDepth ErrorKind = "invalid_depth"

	// ErrorInvalidSubscription: a subscribe request with no watched targets
	// or a non-positive interval. Rejected before any poll loop starts.
	ErrorInvalidSubscription ErrorKind = "invalid_subscription"

	// ErrorSubscriptionNotFound: monitor operation on an unknown id.
	// Unsubscribe treats this as success (idempotent).
	ErrorSubscriptionNotFound ErrorKind = "subscription_not_found"

	// ErrorChannelDeliveryFailed: a notification channel rejected an alert.
	// Logged per channel; never aborts delivery to other channels.
	ErrorChannelDeliveryFailed ErrorKind = "channel_delivery_failed"
)

// EvaluationError is the typed failure returned by engine operations.
// ModelErr and RuleErr carry the underlying causes for both_paths_failed.
type EvaluationError struct {
	Kind     ErrorKind
	Detail   string
	ModelErr error
	RuleErr  error
}

func (e *EvaluationError) Error() string {
	if e.Kind == ErrorBothPathsFailed {
		return fmt.Sprintf("%s: model: %v; rules: %v", e.Kind, e.ModelErr, e.RuleErr)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying causes for errors.Is/As matching.
func (e *EvaluationError) Unwrap() []error {
	var causes []error
	if e.ModelErr != nil {
		causes = append(causes, e.ModelErr)
	}
	if e.RuleErr != nil {
		causes = append(causes, e.RuleErr)
	}
	return causes
}

// InvalidTargetError builds an invalid_target failure.
func InvalidTargetError(detail string) *EvaluationError {
	return &EvaluationError{Kind: ErrorInvalidTarget, Detail: detail}
}

// TimeoutError builds a timeout failure wrapping the deadline error.
func TimeoutError(detail string, cause error) *EvaluationError {
	return &EvaluationError{Kind: ErrorTimeout, Detail: detail, ModelErr: cause}
}

// BothPathsFailedError builds a both_paths_failed failure carrying the
// causes from each path.
func BothPathsFailedError(modelErr, ruleErr error) *EvaluationError {
	return &EvaluationError{Kind: ErrorBothPathsFailed, ModelErr: modelErr, RuleErr: ruleErr}
}

// InvalidDepthError builds an invalid_depth failure.
func InvalidDepthError(depth, max int) *EvaluationError {
	return &EvaluationError{
		Kind:   ErrorInvalidDepth,
		Detail: fmt.Sprintf("depth %d out of range [1, %d]", depth, max),
	}
}

// InvalidSubscriptionError builds an invalid_subscription failure.
func InvalidSubscriptionError(detail string) *EvaluationError {
	return &EvaluationError{Kind: ErrorInvalidSubscription, Detail: detail}
}

// SubscriptionNotFoundError builds a subscription_not_found failure.
func SubscriptionNotFoundError(id string) *EvaluationError {
	return &EvaluationError{Kind: ErrorSubscriptionNotFound, Detail: id}
}

// IsKind reports whether err is an *EvaluationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}
