package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avchat/roomkit/ident"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	def := ident.DefaultResolver()
	require.Equal(t, def.ProductionHost, cfg.ProductionHost)
	require.Equal(t, def.ProductionURL, cfg.ProductionURL)
	require.Equal(t, def.DevPort, cfg.DevPort)
	require.Equal(t, def.FallbackPath, cfg.FallbackPath)
	require.Equal(t, int64(32768), cfg.ReadLimit)
	require.Equal(t, 54*time.Second, cfg.PingPeriod)
	require.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 3, cfg.ReconnectAttempts)
	require.Equal(t, 2*time.Second, cfg.ReconnectInterval)
	require.Empty(t, cfg.SignalingURL)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.test.yaml")
	data := `signaling_url: wss://rtc.example.com
room_id: demo
identity: tester
dev_port: 9000
ping_period: 30s
reconnect_attempts: 5
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0o600))

	cfg, err := LoadFrom(file)
	require.NoError(t, err)
	require.Equal(t, "wss://rtc.example.com", cfg.SignalingURL)
	require.Equal(t, "demo", cfg.RoomID)
	require.Equal(t, "tester", cfg.Identity)
	require.Equal(t, 9000, cfg.DevPort)
	require.Equal(t, 30*time.Second, cfg.PingPeriod)
	require.Equal(t, 5, cfg.ReconnectAttempts)
	// Untouched keys keep their defaults.
	require.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	require.Equal(t, ident.DefaultResolver().FallbackPath, cfg.FallbackPath)
}

func TestResolveSignalingURL(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	hc := ident.HostContext{Protocol: "https", Hostname: "staging.example.com"}
	require.Equal(t, "wss://staging.example.com/rtc", cfg.ResolveSignalingURL(hc))

	// Explicit URL wins over derivation.
	cfg.SignalingURL = "ws://10.0.0.1:7880"
	require.Equal(t, "ws://10.0.0.1:7880", cfg.ResolveSignalingURL(hc))
}

func TestResolverBuildsFromConfig(t *testing.T) {
	cfg := &Config{
		ProductionHost: "meet.corp",
		ProductionURL:  "wss://rtc.corp",
		DevPort:        8443,
		FallbackPath:   "/ws",
	}
	r := cfg.Resolver()
	require.Equal(t, "wss://rtc.corp", r.DeriveSignalingURL(ident.HostContext{Hostname: "meet.corp"}))
	require.Equal(t, "ws://localhost:8443", r.DeriveSignalingURL(ident.HostContext{Hostname: "localhost"}))
}
