package apperr

import (
	"context"
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestEnvelopes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category goerrors.Category
		status   int
		textCode string
	}{
		{"invalid signature", InvalidSignature(errors.New("bad sig")), goerrors.CategoryAuth, http.StatusUnauthorized, CodeInvalidSignature},
		{"malformed", MalformedInteraction(nil, "missing data"), goerrors.CategoryBadInput, http.StatusBadRequest, CodeMalformedInteraction},
		{"too large", PayloadTooLarge(1024), goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{"unsupported", UnsupportedInteraction("modal_submit"), goerrors.CategoryBadInput, http.StatusBadRequest, CodeUnsupportedInteraction},
		{"queue full", EnqueueFailed(errors.New("full"), EnqueueQueueFull), goerrors.CategoryRateLimit, http.StatusServiceUnavailable, CodeQueueFull},
		{"queue closed", EnqueueFailed(errors.New("closed"), EnqueueQueueClosed), goerrors.CategoryInternal, http.StatusServiceUnavailable, CodeQueueClosed},
		{"enqueue aborted", EnqueueFailed(context.Canceled, EnqueueAborted), goerrors.CategoryOperation, http.StatusServiceUnavailable, CodeEnqueueAborted},
		{"enqueue unexpected", EnqueueFailed(errors.New("boom"), EnqueueUnexpected), goerrors.CategoryInternal, http.StatusInternalServerError, CodeInternal},
		{"unknown command", UnknownCommand("nope"), goerrors.CategoryNotFound, http.StatusNotFound, CodeUnknownCommand},
		{"delivery", DeliveryFailed(errors.New("404"), 404, 1), goerrors.CategoryExternal, http.StatusBadGateway, CodeDeliveryFailed},
		{"provisioning", Provisioning(errors.New("boom"), "register"), goerrors.CategoryExternal, http.StatusBadGateway, CodeProvisioningFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tt.err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", tt.err)
			}
			if rich.Category != tt.category {
				t.Errorf("Category = %q, want %q", rich.Category, tt.category)
			}
			if rich.Code != tt.status {
				t.Errorf("Code = %d, want %d", rich.Code, tt.status)
			}
			if rich.TextCode != tt.textCode {
				t.Errorf("TextCode = %q, want %q", rich.TextCode, tt.textCode)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
			if got := TextCode(tt.err); got != tt.textCode {
				t.Errorf("TextCode() = %q, want %q", got, tt.textCode)
			}
		})
	}
}

func TestHelpers_PlainError(t *testing.T) {
	err := errors.New("plain")
	if got := HTTPStatus(err); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() = %d, want 500", got)
	}
	if got := TextCode(err); got != CodeInternal {
		t.Errorf("TextCode() = %q, want %q", got, CodeInternal)
	}
	if got := Message(err); got != "Internal Server Error" {
		t.Errorf("Message() = %q", got)
	}
}

func TestMessage_IsClientSafe(t *testing.T) {
	err := InvalidSignature(errors.New("ed25519: internal detail"))
	if got := Message(err); got != "invalid request signature" {
		t.Errorf("Message() = %q, want %q", got, "invalid request signature")
	}
}
