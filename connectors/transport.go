package connectors

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// securityHeaders are the response headers counted by the inspection.
var securityHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Referrer-Policy",
	"Permissions-Policy",
}

// TransportConnector inspects the domain's TLS certificate and counts
// the security headers the site serves. Its output is carried on the
// scan record for display; it has no sub-score of its own.
type TransportConnector struct {
	chain *Chain[TransportInfo]
}

func NewTransportConnector(logger *log.Logger) *TransportConnector {
	return &TransportConnector{
		chain: NewChain[TransportInfo]("transport", logger, &directInspectProvider{}),
	}
}

func (c *TransportConnector) Fetch(ctx context.Context, identity string) Result[TransportInfo] {
	return c.chain.Run(ctx, identity)
}

type directInspectProvider struct{}

func (p *directInspectProvider) Name() string { return "direct" }

func (p *directInspectProvider) Fetch(ctx context.Context, domain string) (TransportInfo, error) {
	var info TransportInfo

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: &tls.Config{ServerName: domain}}
	conn, err := dialer.DialContext(ctx, "tcp", domain+":443")
	if err == nil {
		state := conn.(*tls.Conn).ConnectionState()
		if len(state.PeerCertificates) > 0 {
			cert := state.PeerCertificates[0]
			info.SSLValid = time.Now().Before(cert.NotAfter)
			info.SSLIssuer = cert.Issuer.CommonName
			info.SSLExpires = cert.NotAfter
		}
		conn.Close()
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, rerr := http.NewRequestWithContext(ctx, "HEAD", "https://"+domain+"/", nil)
	if rerr != nil {
		return info, rerr
	}
	resp, herr := client.Do(req)
	if herr != nil {
		if err != nil {
			// Neither the handshake nor the probe worked.
			return info, fmt.Errorf("tls dial: %v, head: %v", err, herr)
		}
		return info, fmt.Errorf("%w: certificate read but header probe failed", ErrPartial)
	}
	resp.Body.Close()
	for _, h := range securityHeaders {
		if resp.Header.Get(h) != "" {
			info.SecurityHeaders++
		}
	}
	if err != nil {
		return info, fmt.Errorf("%w: headers read but tls handshake failed", ErrPartial)
	}
	return info, nil
}
