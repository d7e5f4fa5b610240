package classifier

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/linkpellow/scrapegoat/internal/models"
)

func TestFromStatusClosedTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   models.FailureKind
	}{
		{401, models.FailureBlocked},
		{403, models.FailureBlocked},
		{429, models.FailureRateLimited},
		{404, models.FailureBadResponse},
		{500, models.FailureBadResponse},
		{200, models.FailureUnknown},
	}
	for _, c := range cases {
		got := FromStatus(c.status, "")
		if got.Kind != c.want {
			t.Errorf("FromStatus(%d) = %v, want %v", c.status, got.Kind, c.want)
		}
	}
}

func TestFromStatusMessageTruncatesSnippet(t *testing.T) {
	long := ""
	for i := 0; i < 500; i++ {
		long += "x"
	}
	got := FromStatus(403, long)
	if len(got.Message) > 200 {
		t.Fatalf("expected truncated message, got length %d", len(got.Message))
	}
}

func TestFromErrorTimeout(t *testing.T) {
	got := FromError(context.DeadlineExceeded)
	if got.Kind != models.FailureTimeout {
		t.Fatalf("expected timeout kind, got %v", got.Kind)
	}
}

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "fake net error" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return false }

func TestFromErrorNetworkVsTimeout(t *testing.T) {
	var timeoutErr net.Error = fakeNetErr{timeout: true}
	if got := FromError(timeoutErr); got.Kind != models.FailureTimeout {
		t.Fatalf("expected timeout kind for a timing-out net.Error, got %v", got.Kind)
	}

	var networkErr net.Error = fakeNetErr{timeout: false}
	if got := FromError(networkErr); got.Kind != models.FailureNetwork {
		t.Fatalf("expected network kind for a non-timing-out net.Error, got %v", got.Kind)
	}
}

func TestFromErrorURLError(t *testing.T) {
	urlErr := &url.Error{Op: "Get", URL: "https://example.com", Err: fmt.Errorf("connection refused")}
	got := FromError(urlErr)
	if got.Kind != models.FailureNetwork {
		t.Fatalf("expected network kind for a url.Error, got %v", got.Kind)
	}
}

func TestFromErrorUnknownFallback(t *testing.T) {
	got := FromError(fmt.Errorf("something unclassifiable"))
	if got.Kind != models.FailureUnknown {
		t.Fatalf("expected unknown kind fallback, got %v", got.Kind)
	}
}
