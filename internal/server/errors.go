package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// errUnconfiguredWebhook rejects webhook channel requests when no alert
// webhook URL is configured.
var errUnconfiguredWebhook = errors.New("webhook channel requested but ALERT_WEBHOOK_URL is not configured")

type unknownChannelError struct {
	name string
}

func (e *unknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %q (want log, realtime, or webhook)", e.name)
}

// errorBody is the wire shape for all error responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toErrorBody(err error) *errorBody {
	var ee *risk.EvaluationError
	if errors.As(err, &ee) {
		return &errorBody{Error: string(ee.Kind), Message: ee.Error()}
	}
	return &errorBody{Error: "internal_error", Message: err.Error()}
}

// writeError maps typed evaluation failures to HTTP statuses.
func writeError(c *gin.Context, err error) {
	body := toErrorBody(err)
	switch {
	case risk.IsKind(err, risk.ErrorInvalidTarget),
		risk.IsKind(err, risk.ErrorInvalidDepth),
		risk.IsKind(err, risk.ErrorInvalidSubscription):
		c.JSON(http.StatusBadRequest, body)
	case risk.IsKind(err, risk.ErrorSubscriptionNotFound):
		c.JSON(http.StatusNotFound, body)
	case risk.IsKind(err, risk.ErrorTimeout):
		c.JSON(http.StatusGatewayTimeout, body)
	case risk.IsKind(err, risk.ErrorBothPathsFailed):
		c.JSON(http.StatusBadGateway, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: code, Message: message})
}

func validationFailed(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"fields":  errs,
	})
}
