package connectors

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

type AuthMethod interface {
	Apply(req *http.Request)
}

// Endpoint wraps one upstream HTTP data provider. Providers in a fallback
// chain each own an Endpoint; the chain decides what a failure means.
type Endpoint struct {
	URL     string       `json:"url"`
	Auth    AuthMethod   `json:"-"`
	Gateway *http.Client `json:"-"`
}

func NewEndpoint(url string, auth AuthMethod, insecure bool) *Endpoint {
	client := &http.Client{Timeout: 10 * time.Second}
	if insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Endpoint{URL: url, Auth: auth, Gateway: client}
}

func (e *Endpoint) GetURL() string { return e.URL }

// Do applies auth, executes the request and returns the body. Non-2xx
// statuses are errors so the fallback chain advances to the next provider.
func (e *Endpoint) Do(req *http.Request) ([]byte, error) {
	if e.Auth != nil {
		e.Auth.Apply(req)
	}
	resp, err := e.Gateway.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %d", req.URL.Host, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("zero length response from %s", req.URL.Host)
	}
	return body, nil
}

type BasicAuth struct {
	Username string
	Password string
}

type BearerAuth struct {
	Token string
}

type KeyAuth struct {
	Token string
}

type XAPIKeyAuth struct {
	Token string
}

func (b *BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.Token)
}

func (k *KeyAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", k.Token)
}

func (b *BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(b.Username, b.Password)
}

func (x *XAPIKeyAuth) Apply(req *http.Request) {
	req.Header.Set("X-Api-Key", x.Token)
}
