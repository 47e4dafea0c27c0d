package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingClient struct {
	lastReq *http.Request
}

func (r *recordingClient) Do(req *http.Request) (*http.Response, error) {
	r.lastReq = req
	return &http.Response{StatusCode: http.StatusOK}, nil
}

func TestWithUserAgent(t *testing.T) {
	rec := &recordingClient{}
	c := &WithUserAgent{BasicClient: rec, UserAgent: "upy-packager/1.0"}
	req := httptest.NewRequest(http.MethodGet, "http://example.com/package.json", nil)
	if _, err := c.Do(req); err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if got := rec.lastReq.Header.Get("User-Agent"); got != "upy-packager/1.0" {
		t.Fatalf("User-Agent = %q, want %q", got, "upy-packager/1.0")
	}
}
