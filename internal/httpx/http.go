// Package httpx provides a simpler http.Client abstraction and derivative uses.
package httpx

import (
	"net/http"
)

// BasicClient is a simpler http.Client that only requires a Do method. Every
// network-facing component (pkg/fetch, pkg/manifest) depends on this
// interface rather than *http.Client directly, so tests can supply fakes
// without starting a server.
type BasicClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ BasicClient = http.DefaultClient

// WithUserAgent decorates a BasicClient, tagging every outgoing request with
// a fixed User-Agent. Used when talking to the GitHub/GitLab raw content
// hosts and the package index.
type WithUserAgent struct {
	BasicClient
	UserAgent string
}

var _ BasicClient = &WithUserAgent{}

// Do adds the User-Agent header and sends the request.
func (c *WithUserAgent) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.UserAgent)
	return c.BasicClient.Do(req)
}
