// Package classifier implements C1: a pure mapping from transport errors
// and HTTP status codes to the closed failure-kind taxonomy of §4.1.
// It performs no I/O and holds no state.
package classifier

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// Classification is the {kind, human message} pair C1 returns.
type Classification struct {
	Kind    models.FailureKind
	Message string
}

// FromStatus classifies an HTTP response by status code (and an optional
// body snippet used only to enrich the message).
func FromStatus(status int, bodySnippet string) Classification {
	switch {
	case status == 401 || status == 403:
		return Classification{models.FailureBlocked, httpMessage(status, bodySnippet)}
	case status == 429:
		return Classification{models.FailureRateLimited, httpMessage(status, bodySnippet)}
	case status >= 400:
		return Classification{models.FailureBadResponse, httpMessage(status, bodySnippet)}
	default:
		return Classification{models.FailureUnknown, httpMessage(status, bodySnippet)}
	}
}

func httpMessage(status int, bodySnippet string) string {
	msg := "unexpected HTTP status"
	switch {
	case status == 401:
		msg = "unauthorized"
	case status == 403:
		msg = "forbidden"
	case status == 429:
		msg = "rate limited"
	case status >= 500:
		msg = "upstream server error"
	case status >= 400:
		msg = "client error response"
	}
	if bodySnippet = strings.TrimSpace(bodySnippet); bodySnippet != "" {
		if len(bodySnippet) > 160 {
			bodySnippet = bodySnippet[:160]
		}
		msg = msg + ": " + bodySnippet
	}
	return msg
}

// FromError classifies a transport-level exception raised by an engine
// adapter (network failure, timeout, malformed URL, ...).
func FromError(err error) Classification {
	if err == nil {
		return Classification{models.FailureUnknown, "nil error classified"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{models.FailureTimeout, "request timed out"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Classification{models.FailureTimeout, "network operation timed out"}
		}
		return Classification{models.FailureNetwork, "network error: " + err.Error()}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return Classification{models.FailureTimeout, "request timed out"}
		}
		return Classification{models.FailureNetwork, "network error: " + urlErr.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{models.FailureNetwork, "request canceled"}
	}
	return Classification{models.FailureUnknown, err.Error()}
}
