package ident

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/avchat/roomkit/domain"
)

// HostContext is the deployment context a signaling URL is derived from.
// Callers gather it once (browser location, config, flags) and pass it in;
// the resolver itself never probes the environment.
type HostContext struct {
	// Protocol is the page/application scheme, "http" or "https".
	Protocol string
	Hostname string
}

// Resolver maps a host context to a signaling endpoint. The zero value is
// not useful; start from DefaultResolver and override as needed.
type Resolver struct {
	// ProductionHost is the deployment hostname that maps to the fixed
	// ProductionURL endpoint.
	ProductionHost string
	ProductionURL  string
	// DevPort is the local signaling port used for loopback hosts.
	DevPort int
	// FallbackPath is appended to the host for every other deployment.
	FallbackPath string
}

func DefaultResolver() Resolver {
	return Resolver{
		ProductionHost: "app.roomkit.dev",
		ProductionURL:  "wss://rtc.roomkit.dev",
		DevPort:        7880,
		FallbackPath:   "/rtc",
	}
}

// DeriveSignalingURL returns the ws/wss endpoint for the given context.
// Deterministic and side-effect free: production hostname wins, loopback
// maps to the fixed development port, anything else gets the templated
// fallback with the scheme following the input protocol.
func (r Resolver) DeriveSignalingURL(hc HostContext) string {
	if hc.Hostname == r.ProductionHost {
		return r.ProductionURL
	}
	if isLoopback(hc.Hostname) {
		return fmt.Sprintf("ws://%s:%d", hc.Hostname, r.DevPort)
	}
	scheme := "ws"
	if strings.EqualFold(hc.Protocol, "https") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, hc.Hostname, r.FallbackPath)
}

// DeriveSignalingURL resolves against the default resolver.
func DeriveSignalingURL(hc HostContext) string {
	return DefaultResolver().DeriveSignalingURL(hc)
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

// ShareableLink builds a join link carrying the room ID and the optional
// password as query parameters, for copy/paste invites.
func ShareableLink(baseURL string, roomID domain.RoomID, password string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("room", string(roomID))
	if password != "" {
		q.Set("pwd", password)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
