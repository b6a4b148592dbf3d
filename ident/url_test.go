package ident

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveSignalingURL(t *testing.T) {
	tests := []struct {
		name string
		hc   HostContext
		want string
	}{
		{"production host", HostContext{Protocol: "https", Hostname: "app.roomkit.dev"}, "wss://rtc.roomkit.dev"},
		{"production host ignores protocol", HostContext{Protocol: "http", Hostname: "app.roomkit.dev"}, "wss://rtc.roomkit.dev"},
		{"localhost", HostContext{Protocol: "http", Hostname: "localhost"}, "ws://localhost:7880"},
		{"loopback v4", HostContext{Protocol: "https", Hostname: "127.0.0.1"}, "ws://127.0.0.1:7880"},
		{"loopback v6", HostContext{Protocol: "http", Hostname: "[::1]"}, "ws://[::1]:7880"},
		{"staging over https", HostContext{Protocol: "https", Hostname: "staging.example.com"}, "wss://staging.example.com/rtc"},
		{"plain http host", HostContext{Protocol: "http", Hostname: "10.0.0.5"}, "ws://10.0.0.5/rtc"},
		{"protocol case insensitive", HostContext{Protocol: "HTTPS", Hostname: "example.com"}, "wss://example.com/rtc"},
		{"empty protocol falls back to ws", HostContext{Hostname: "example.com"}, "ws://example.com/rtc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DeriveSignalingURL(tt.hc))
		})
	}
}

func TestDeriveSignalingURLCustomResolver(t *testing.T) {
	r := Resolver{
		ProductionHost: "meet.corp.internal",
		ProductionURL:  "wss://rtc.corp.internal",
		DevPort:        9000,
		FallbackPath:   "/signal",
	}
	require.Equal(t, "wss://rtc.corp.internal", r.DeriveSignalingURL(HostContext{Hostname: "meet.corp.internal"}))
	require.Equal(t, "ws://localhost:9000", r.DeriveSignalingURL(HostContext{Hostname: "localhost"}))
	require.Equal(t, "ws://node-3/signal", r.DeriveSignalingURL(HostContext{Protocol: "http", Hostname: "node-3"}))
}

func TestDeriveSignalingURLIsDeterministic(t *testing.T) {
	hc := HostContext{Protocol: "https", Hostname: "example.com"}
	first := DeriveSignalingURL(hc)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, DeriveSignalingURL(hc))
	}
}

func TestShareableLink(t *testing.T) {
	link, err := ShareableLink("https://app.roomkit.dev/join", "room 1", "p&w")
	require.NoError(t, err)
	require.Equal(t, "https://app.roomkit.dev/join?pwd=p%26w&room=room+1", link)

	link, err = ShareableLink("https://app.roomkit.dev/join", "abc123", "")
	require.NoError(t, err)
	require.Equal(t, "https://app.roomkit.dev/join?room=abc123", link)

	_, err = ShareableLink("://bad", "abc", "")
	require.Error(t, err)
}
