// Package apperr builds the classified error envelopes shared by the
// endpoint, the worker pool and startup provisioning.
package apperr

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by rich errors and emitted in logs.
const (
	CodeInvalidSignature       = "INVALID_SIGNATURE"
	CodeMalformedInteraction   = "MALFORMED_INTERACTION"
	CodePayloadTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedInteraction = "UNSUPPORTED_INTERACTION"
	CodeQueueFull              = "QUEUE_FULL"
	CodeQueueClosed            = "QUEUE_CLOSED"
	CodeEnqueueAborted         = "ENQUEUE_ABORTED"
	CodeUnknownCommand         = "UNKNOWN_COMMAND"
	CodeDeliveryFailed         = "DELIVERY_FAILED"
	CodeProvisioningFailed     = "PROVISIONING_FAILED"
	CodeInternal               = "INTERNAL_ERROR"
)

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// InvalidSignature classifies a request that failed authentication.
func InvalidSignature(cause error) error {
	return wrapError(cause, goerrors.CategoryAuth, "invalid request signature", http.StatusUnauthorized, CodeInvalidSignature, nil)
}

// MalformedInteraction classifies an authenticated body that could not be used.
func MalformedInteraction(cause error, reason string) error {
	return wrapError(cause, goerrors.CategoryBadInput, "malformed interaction: "+reason, http.StatusBadRequest, CodeMalformedInteraction, nil)
}

// PayloadTooLarge classifies a body over the configured limit.
func PayloadTooLarge(limit int64) error {
	return newError("request body too large", goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
		map[string]any{"limit_bytes": limit})
}

// UnsupportedInteraction classifies interaction kinds a static response cannot answer.
func UnsupportedInteraction(kind string) error {
	return newError("unsupported interaction type", goerrors.CategoryBadInput, http.StatusBadRequest, CodeUnsupportedInteraction,
		map[string]any{"interaction_type": kind})
}

// EnqueueFailure says why the dispatch queue refused an interaction.
type EnqueueFailure int

const (
	EnqueueQueueFull EnqueueFailure = iota
	EnqueueQueueClosed
	// EnqueueAborted means the request context ended while waiting for space.
	EnqueueAborted
	EnqueueUnexpected
)

// EnqueueFailed classifies a hand-off that the dispatch queue refused.
func EnqueueFailed(cause error, kind EnqueueFailure) error {
	switch kind {
	case EnqueueQueueFull:
		return wrapError(cause, goerrors.CategoryRateLimit, "dispatch queue full", http.StatusServiceUnavailable, CodeQueueFull, nil)
	case EnqueueQueueClosed:
		return wrapError(cause, goerrors.CategoryInternal, "dispatch queue closed", http.StatusServiceUnavailable, CodeQueueClosed, nil)
	case EnqueueAborted:
		return wrapError(cause, goerrors.CategoryOperation, "enqueue aborted by request context", http.StatusServiceUnavailable, CodeEnqueueAborted, nil)
	default:
		return wrapError(cause, goerrors.CategoryInternal, "enqueue failed", http.StatusInternalServerError, CodeInternal, nil)
	}
}

// UnknownCommand classifies a command name with no response entry.
func UnknownCommand(name string) error {
	return newError("no response configured for command", goerrors.CategoryNotFound, http.StatusNotFound, CodeUnknownCommand,
		map[string]any{"command": name})
}

// DeliveryFailed classifies a follow-up that Discord did not accept.
func DeliveryFailed(cause error, status, attempts int) error {
	return wrapError(cause, goerrors.CategoryExternal, "follow-up delivery failed", http.StatusBadGateway, CodeDeliveryFailed,
		map[string]any{"status": status, "attempts": attempts})
}

// Provisioning classifies a failed startup call to the Discord API.
func Provisioning(cause error, step string) error {
	return wrapError(cause, goerrors.CategoryExternal, "command provisioning failed: "+step, http.StatusBadGateway, CodeProvisioningFailed, nil)
}

// HTTPStatus returns the status code carried by a rich error, or 500.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// TextCode returns the text code carried by a rich error, or CodeInternal.
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		return rich.TextCode
	}
	return CodeInternal
}

// Message returns the client-safe message of a rich error.
func Message(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}
	return http.StatusText(http.StatusInternalServerError)
}
