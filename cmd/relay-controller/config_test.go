package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agsys/relay-controller/internal/netboot"
	"github.com/agsys/relay-controller/internal/relay"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "device:\n  name: greenhouse\n"))
	require.NoError(t, err)

	require.Len(t, cfg.Relays, 1)
	assert.Equal(t, relay.IndicatorTag, cfg.Relays[0].ID)
	assert.Equal(t, ":5000", cfg.HTTP.Listen)
	assert.Equal(t, 30*time.Second, cfg.engineConfig().TickInterval)
	assert.Equal(t, "static", cfg.Network.Driver)
	assert.Equal(t, &netboot.Static{}, cfg.network())
	assert.Equal(t, "greenhouse", cfg.MDNS.Instance)
	assert.Equal(t, "relayctl", cfg.MQTT.TopicPrefix)
	assert.True(t, cfg.ntpEnabled())
	assert.Equal(t, "info", cfg.Logging.Level)

	boot := cfg.bootConfig()
	assert.Equal(t, 5000, boot.HTTPPort)
	assert.Empty(t, boot.MDNSInstance, "mdns is off unless enabled")
	assert.Equal(t, netboot.DefaultAccessPoint(), boot.AccessPoint)
}

func TestLoadConfigFull(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
relays:
  - id: LED
    driver: memory
  - id: "21"
    driver: gpio
    active_low: true
schedule:
  tick_interval: 10
  utc_offset_minutes: -300
http:
  listen: "127.0.0.1:8080"
network:
  driver: nmcli
  associate_timeout: 15
ntp:
  enabled: false
mdns:
  enabled: true
logging:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.engineConfig().TickInterval)
	assert.Equal(t, -5*time.Hour, cfg.utcOffset())
	assert.False(t, cfg.ntpEnabled())
	require.IsType(t, &netboot.NMCLI{}, cfg.network())
	assert.Equal(t, "wlan0", cfg.network().(*netboot.NMCLI).Interface)

	boot := cfg.bootConfig()
	assert.Equal(t, 8080, boot.HTTPPort)
	assert.Equal(t, 15*time.Second, boot.AssociateTimeout)
	assert.Equal(t, "relay-controller", boot.MDNSInstance)
}

func TestLoadConfigStaticInterface(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "network:\n  interface: eth0\n"))
	require.NoError(t, err)

	assert.Equal(t, &netboot.Static{Interface: "eth0"}, cfg.network())
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate relay": "relays:\n  - id: LED\n  - id: LED\n",
		"bad relay id":    "relays:\n  - id: \"-3\"\n",
		"unknown driver":  "relays:\n  - id: \"5\"\n    driver: pwm\n",
		"named gpio":      "relays:\n  - id: pump\n    driver: gpio\n",
		"network driver":  "network:\n  driver: wpa\n",
		"listen":          "http:\n  listen: \"5000\"\n",
		"utc offset":      "schedule:\n  utc_offset_minutes: 1000\n",
		"tick interval":   "schedule:\n  tick_interval: 90\n",
		"yaml":            "relays: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestBuildRelays(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := buildRelays(fs, []RelayConfig{
		{ID: "LED"},
		{ID: "21", Driver: relay.DriverMemory},
	})
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, m.Has(relay.NamedID("LED")))
	assert.True(t, m.Has(relay.PinID(21)))
	assert.Len(t, m.IDs(), 2)
}

func TestBuildRelaysUnknownDriver(t *testing.T) {
	_, err := buildRelays(afero.NewMemMapFs(), []RelayConfig{{ID: "LED"}, {ID: "4", Driver: "pwm"}})
	assert.Error(t, err)
}
