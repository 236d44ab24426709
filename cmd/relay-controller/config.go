package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/agsys/relay-controller/internal/engine"
	"github.com/agsys/relay-controller/internal/events"
	"github.com/agsys/relay-controller/internal/logging"
	"github.com/agsys/relay-controller/internal/netboot"
	"github.com/agsys/relay-controller/internal/relay"
)

// RelayConfig describes one relay and the pin behind it
type RelayConfig struct {
	ID        string `yaml:"id"`
	Driver    string `yaml:"driver"`
	Number    int    `yaml:"number"`
	LED       string `yaml:"led"`
	ActiveLow bool   `yaml:"active_low"`
	Root      string `yaml:"root"`
}

// Config represents the configuration file structure
type Config struct {
	Device struct {
		Name string `yaml:"name"`
	} `yaml:"device"`

	Relays []RelayConfig `yaml:"relays"`

	Schedule struct {
		Path             string `yaml:"path"`
		TickInterval     int    `yaml:"tick_interval"`
		UTCOffsetMinutes int    `yaml:"utc_offset_minutes"`
	} `yaml:"schedule"`

	HTTP struct {
		Listen    string `yaml:"listen"`
		AccessLog bool   `yaml:"access_log"`
	} `yaml:"http"`

	History struct {
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"history"`

	Network struct {
		Driver           string `yaml:"driver"`
		Interface        string `yaml:"interface"`
		CredentialsPath  string `yaml:"credentials_path"`
		SSID             string `yaml:"ssid"`
		Password         string `yaml:"password"`
		AssociateTimeout int    `yaml:"associate_timeout"`
		AccessPoint      struct {
			SSID     string `yaml:"ssid"`
			Password string `yaml:"password"`
			Address  string `yaml:"address"`
		} `yaml:"access_point"`
	} `yaml:"network"`

	NTP struct {
		Enabled *bool  `yaml:"enabled"`
		Server  string `yaml:"server"`
		Timeout int    `yaml:"timeout"`
	} `yaml:"ntp"`

	MDNS struct {
		Enabled  bool   `yaml:"enabled"`
		Instance string `yaml:"instance"`
	} `yaml:"mdns"`

	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Logging logging.Config `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{Logging: logging.DefaultConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Name == "" {
		c.Device.Name = "relay-controller"
	}
	if len(c.Relays) == 0 {
		c.Relays = []RelayConfig{{ID: relay.IndicatorTag, Driver: relay.DriverMemory}}
	}
	if c.Schedule.Path == "" {
		c.Schedule.Path = "/var/lib/relayctl/schedules.json"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":5000"
	}
	if c.Network.Driver == "" {
		c.Network.Driver = "static"
	}
	if c.Network.Interface == "" && c.Network.Driver == "nmcli" {
		c.Network.Interface = "wlan0"
	}
	if c.Network.CredentialsPath == "" {
		c.Network.CredentialsPath = "/var/lib/relayctl/wifi.json"
	}
	ap := netboot.DefaultAccessPoint()
	if c.Network.AccessPoint.SSID == "" {
		c.Network.AccessPoint.SSID = ap.SSID
		c.Network.AccessPoint.Password = ap.Password
	}
	if c.Network.AccessPoint.Address == "" {
		c.Network.AccessPoint.Address = ap.Address
	}
	if c.NTP.Server == "" {
		c.NTP.Server = "pool.ntp.org"
	}
	if c.MDNS.Instance == "" {
		c.MDNS.Instance = c.Device.Name
	}
	mq := events.DefaultMQTTConfig()
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Device.Name
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = mq.TopicPrefix
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i, rc := range c.Relays {
		id, err := relay.ParseID(rc.ID)
		if err != nil {
			return fmt.Errorf("relays[%d]: %w", i, err)
		}
		if seen[id.String()] {
			return fmt.Errorf("relays[%d]: duplicate relay id %s", i, id)
		}
		seen[id.String()] = true

		switch rc.Driver {
		case "", relay.DriverMemory, relay.DriverLED:
		case relay.DriverGPIO:
			if _, isPin := id.Pin(); !isPin && rc.Number <= 0 {
				return fmt.Errorf("relays[%d]: gpio relay %s needs a number", i, id)
			}
		default:
			return fmt.Errorf("relays[%d]: unknown driver %q", i, rc.Driver)
		}
	}

	switch c.Network.Driver {
	case "static", "nmcli":
	default:
		return fmt.Errorf("network.driver must be static or nmcli, got %q", c.Network.Driver)
	}
	if c.Schedule.TickInterval > 60 {
		return fmt.Errorf("schedule.tick_interval must be at most 60 seconds, got %d", c.Schedule.TickInterval)
	}
	if _, err := c.httpPort(); err != nil {
		return err
	}
	if off := c.Schedule.UTCOffsetMinutes; off < -14*60 || off > 14*60 {
		return fmt.Errorf("schedule.utc_offset_minutes out of range: %d", off)
	}
	return nil
}

func (c *Config) engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if c.Schedule.TickInterval > 0 {
		cfg.TickInterval = secondsToDuration(c.Schedule.TickInterval)
	}
	return cfg
}

func (c *Config) utcOffset() time.Duration {
	return time.Duration(c.Schedule.UTCOffsetMinutes) * time.Minute
}

func (c *Config) httpPort() (int, error) {
	_, port, err := net.SplitHostPort(c.HTTP.Listen)
	if err != nil {
		return 0, fmt.Errorf("invalid http.listen: %w", err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("invalid http.listen port %q", port)
	}
	return n, nil
}

func (c *Config) ntpEnabled() bool {
	return c.NTP.Enabled == nil || *c.NTP.Enabled
}

func (c *Config) mqttConfig() events.MQTTConfig {
	cfg := events.DefaultMQTTConfig()
	cfg.Broker = c.MQTT.Broker
	cfg.ClientID = c.MQTT.ClientID
	cfg.Username = c.MQTT.Username
	cfg.Password = c.MQTT.Password
	cfg.TopicPrefix = c.MQTT.TopicPrefix
	return cfg
}

func (c *Config) bootConfig() netboot.Config {
	cfg := netboot.DefaultConfig()
	if c.Network.AssociateTimeout > 0 {
		cfg.AssociateTimeout = secondsToDuration(c.Network.AssociateTimeout)
	}
	cfg.AccessPoint = netboot.AccessPoint{
		SSID:     c.Network.AccessPoint.SSID,
		Password: c.Network.AccessPoint.Password,
		Address:  c.Network.AccessPoint.Address,
	}
	if c.NTP.Timeout > 0 {
		cfg.NTPTimeout = secondsToDuration(c.NTP.Timeout)
	}
	cfg.MDNSInstance = ""
	if c.MDNS.Enabled {
		cfg.MDNSInstance = c.MDNS.Instance
	}
	cfg.HTTPPort, _ = c.httpPort()
	cfg.TXT = []string{"path=/get_schedules", "device=" + c.Device.Name}
	return cfg
}

func (c *Config) network() netboot.Network {
	if c.Network.Driver == "nmcli" {
		return netboot.NewNMCLI(c.Network.Interface)
	}
	return &netboot.Static{Interface: c.Network.Interface}
}

// buildRelays opens every configured pin. Pins already opened are closed
// when a later one fails.
func buildRelays(fs afero.Fs, configs []RelayConfig) (*relay.Map, error) {
	m := relay.NewMap()
	for _, rc := range configs {
		id, err := relay.ParseID(rc.ID)
		if err != nil {
			m.Close()
			return nil, err
		}
		spec := relay.PinSpec{
			Driver:    rc.Driver,
			Number:    rc.Number,
			LED:       rc.LED,
			ActiveLow: rc.ActiveLow,
			Root:      rc.Root,
		}
		if n, isPin := id.Pin(); isPin && spec.Number == 0 {
			spec.Number = n
		}
		pin, err := relay.OpenPin(fs, spec)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to open relay %s: %w", id, err)
		}
		if err := m.Add(relay.New(id, pin)); err != nil {
			pin.Close()
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
