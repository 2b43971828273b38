// Package config loads the receiver setup file kept under the config
// directory. The file is produced by the setup glue and read-only here.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"satmon/internal/defs"
)

const (
	// FileName is the receiver setup file inside the config directory.
	FileName = "config.json"

	DefaultSNMPPort        = 161
	DefaultSNMPCommunity   = "public"
	DefaultSNMPTimeoutSec  = 5
	DefaultSatIPTimeoutSec = 5
	DefaultZapBinary       = "dvbv5-zap"
)

// Config is the receiver setup read at startup.
type Config struct {
	Satellite string `json:"satellite"`
	Receiver  string `json:"receiver"` // standalone|usb|sdr|satip
	LNB       string `json:"lnb"`

	Standalone *StandaloneConfig `json:"standalone,omitempty"`
	USB        *USBConfig        `json:"usb,omitempty"`
	SatIP      *SatIPConfig      `json:"satip,omitempty"`
}

// StandaloneConfig points at a network-attached demodulator managed over SNMP.
type StandaloneConfig struct {
	Host       string `json:"host"`
	Port       uint16 `json:"port"`
	Community  string `json:"community"`
	TimeoutSec int    `json:"timeout_sec"`
}

// USBConfig describes the USB demodulator tuned through an external zap tool.
type USBConfig struct {
	Adapter     int    `json:"adapter"`
	Frontend    int    `json:"frontend"`
	ChannelConf string `json:"channel_conf"`
	ZapBinary   string `json:"zap_binary"`
}

// SatIPConfig describes a Sat-IP receiver reached over HTTP.
type SatIPConfig struct {
	Address    string `json:"address"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	TimeoutSec int    `json:"timeout_sec"`
}

// Load reads and parses the setup file from the config directory.
func Load(cfgDir string) (Config, error) {
	path := filepath.Join(cfgDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse %s", path)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Satellite == "" {
		return errors.New("satellite is required")
	}
	if _, err := defs.FindSatellite(cfg.Satellite); err != nil {
		return err
	}
	if !defs.ValidKind(cfg.Receiver) {
		return errors.Errorf("invalid receiver kind %q", cfg.Receiver)
	}
	if cfg.LNB != "" {
		if _, err := defs.FindLNB(cfg.LNB); err != nil {
			return err
		}
	}
	switch cfg.Receiver {
	case defs.KindStandalone:
		if cfg.Standalone == nil || cfg.Standalone.Host == "" {
			return errors.New("standalone.host is required")
		}
	case defs.KindUSB:
		if cfg.USB == nil || cfg.USB.ChannelConf == "" {
			return errors.New("usb.channel_conf is required")
		}
	case defs.KindSatIP:
		if cfg.SatIP == nil || cfg.SatIP.Address == "" {
			return errors.New("satip.address is required")
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Standalone != nil {
		if cfg.Standalone.Port == 0 {
			cfg.Standalone.Port = DefaultSNMPPort
		}
		if cfg.Standalone.Community == "" {
			cfg.Standalone.Community = DefaultSNMPCommunity
		}
		if cfg.Standalone.TimeoutSec == 0 {
			cfg.Standalone.TimeoutSec = DefaultSNMPTimeoutSec
		}
	}
	if cfg.USB != nil {
		if cfg.USB.ZapBinary == "" {
			cfg.USB.ZapBinary = DefaultZapBinary
		}
	}
	if cfg.SatIP != nil {
		if cfg.SatIP.TimeoutSec == 0 {
			cfg.SatIP.TimeoutSec = DefaultSatIPTimeoutSec
		}
	}
}

// LogDir returns the directory holding receiver log files.
func LogDir(cfgDir string) string {
	return filepath.Join(cfgDir, "logs")
}

// GnupgDir returns the keyring directory inside the config directory.
func GnupgDir(cfgDir string) string {
	return filepath.Join(cfgDir, ".gnupg")
}

// InboxDir returns the satellite message inbox directory. The downstream
// decryption pipeline drops messages addressed to this receiver in here.
func InboxDir(cfgDir string) string {
	return filepath.Join(cfgDir, "api", "inbox")
}
