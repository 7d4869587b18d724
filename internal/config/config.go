package config

import (
	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from a TOML file.
type Config struct {
	Logger    LogConf        `toml:"logger"`
	ArtNet    ArtNetConf     `toml:"artnet"`
	Senders   []SenderConf   `toml:"sender"`
	Receivers []ReceiverConf `toml:"receiver"`
	MQTT      MQTTConf       `toml:"mqtt"`
}

// LogConf configures the process logger.
type LogConf struct {
	Level string `toml:"log-level"` // Level - logging level.
}

// ArtNetConf configures the protocol engine.
type ArtNetConf struct {
	Name            string `toml:"name"`              // Name - short name advertised in poll replies.
	LongName        string `toml:"long-name"`         // LongName - long name advertised in poll replies.
	Port            int    `toml:"port"`              // Port - listen port, default 6454.
	PollIntervalMs  int    `toml:"poll-interval-ms"`  // PollIntervalMs - ArtPoll period.
	PollDestination string `toml:"poll-destination"`  // PollDestination - broadcast address polled.
	NodeWindowSec   int    `toml:"node-window-sec"`   // NodeWindowSec - node liveness window.
}

// SenderConf declares one outgoing DMX universe.
type SenderConf struct {
	Net         int    `toml:"net"`
	Subnet      int    `toml:"subnet"`
	Universe    int    `toml:"universe"`
	Destination string `toml:"destination"` // empty for broadcast
	RefreshMs   int    `toml:"refresh-ms"`
}

// ReceiverConf declares one incoming DMX universe.
type ReceiverConf struct {
	Net      int    `toml:"net"`
	Subnet   int    `toml:"subnet"`
	Universe int    `toml:"universe"`
	From     string `toml:"from"` // CIDR source filter, empty accepts anywhere
}

// MQTTConf configures the MQTT bridge.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`  // Enabled - run the bridge at all.
	ClientID string `toml:"clientID"` // ClientID - client name.
	Host     string `toml:"server"`   // Host - MQTT server address.
	Port     string `toml:"port"`     // Port - MQTT server port.
	User     string `toml:"user"`     // User - MQTT login.
	Password string `toml:"password"` // Password - MQTT password.
	Qos      byte   `toml:"qos"`      // Qos - quality of service.
}

// NewConfig reads the configuration from path on top of the defaults.
func NewConfig(path string) (*Config, error) {
	cfg := Config{
		Logger: LogConf{Level: "info"},
		ArtNet: ArtNetConf{Name: "dmxnet"},
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}
