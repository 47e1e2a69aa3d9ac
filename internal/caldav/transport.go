package caldav

import "net/http"

// basicAuthTransport adds Basic Auth and a User-Agent to each request.
type basicAuthTransport struct {
	username  string
	password  string
	userAgent string
	base      http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}
