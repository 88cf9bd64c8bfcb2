package persistence

import (
	"fmt"
	"net/http"
	"strings"
)

// DeleteErrorKind distinguishes why a delete-range call was rejected, so the
// API layer can answer with the right status and the console can explain the
// failure instead of showing a generic error.
type DeleteErrorKind string

const (
	// DeleteFeatureDisabled means message deletion is not enabled for the
	// subscribe key.
	DeleteFeatureDisabled DeleteErrorKind = "feature_disabled"
	// DeleteAccessDenied means the credentials lack delete permission.
	DeleteAccessDenied DeleteErrorKind = "access_denied"
	// DeleteMalformedRange means the start/end range was invalid.
	DeleteMalformedRange DeleteErrorKind = "malformed_range"
	// DeleteNotFound means the channel or range has nothing to delete.
	DeleteNotFound DeleteErrorKind = "not_found"
	// DeleteUpstreamUnavailable covers upstream 5xx failures.
	DeleteUpstreamUnavailable DeleteErrorKind = "upstream_unavailable"
	// DeleteGeneric is everything else.
	DeleteGeneric DeleteErrorKind = "generic"
)

// DeleteError is a rejected delete-range call.
type DeleteError struct {
	Kind    DeleteErrorKind
	Status  int
	Channel string
	Message string
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete on channel %q rejected (%s): %s", e.Channel, e.Kind, e.Message)
}

// classifyDelete maps an upstream rejection to a DeleteError kind.
func classifyDelete(status int, channel, body string) *DeleteError {
	kind := DeleteGeneric
	switch {
	case status == http.StatusForbidden && strings.Contains(strings.ToLower(body), "delete"):
		// The upstream answers 403 both for a key without the delete
		// feature and for plain permission failures; the body names the
		// feature in the former case.
		kind = DeleteFeatureDisabled
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		kind = DeleteAccessDenied
	case status == http.StatusPaymentRequired:
		kind = DeleteFeatureDisabled
	case status == http.StatusBadRequest:
		kind = DeleteMalformedRange
	case status == http.StatusNotFound:
		kind = DeleteNotFound
	case status >= 500:
		kind = DeleteUpstreamUnavailable
	}
	return &DeleteError{Kind: kind, Status: status, Channel: channel, Message: strings.TrimSpace(body)}
}
