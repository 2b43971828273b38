// Package defs holds the built-in satellite, receiver, and LNB catalog.
package defs

import (
	_ "embed"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Receiver kinds supported by the monitor.
const (
	KindStandalone = "standalone"
	KindUSB        = "usb"
	KindSDR        = "sdr"
	KindSatIP      = "satip"
)

// MonitorPort is the default port of the local HTTP reader.
const MonitorPort = 9004

// Satellite describes one supported satellite beam.
type Satellite struct {
	Name      string  `yaml:"name"`
	Alias     string  `yaml:"alias"`
	DLFreqMHz float64 `yaml:"dl_freq_mhz"`
	Band      string  `yaml:"band"`
	Pol       string  `yaml:"pol"`
}

// Receiver describes one supported demodulator model.
type Receiver struct {
	Vendor string `yaml:"vendor"`
	Model  string `yaml:"model"`
	Kind   string `yaml:"kind"`
}

// LNB describes one supported LNB model.
type LNB struct {
	Vendor    string    `yaml:"vendor"`
	Model     string    `yaml:"model"`
	LOFreqMHz []float64 `yaml:"lo_freq_mhz"`
	Universal bool      `yaml:"universal"`
	Band      string    `yaml:"band"`
}

type catalog struct {
	Satellites []Satellite `yaml:"satellites"`
	Receivers  []Receiver  `yaml:"receivers"`
	LNBs       []LNB       `yaml:"lnbs"`
}

//go:embed catalog.yaml
var catalogYAML []byte

var cat catalog

func init() {
	if err := yaml.Unmarshal(catalogYAML, &cat); err != nil {
		panic(errors.Wrap(err, "defs: parse embedded catalog"))
	}
}

// Satellites returns the supported satellites.
func Satellites() []Satellite {
	return cat.Satellites
}

// SatelliteAliases returns the aliases of the supported satellites.
func SatelliteAliases() []string {
	aliases := make([]string, 0, len(cat.Satellites))
	for _, s := range cat.Satellites {
		aliases = append(aliases, s.Alias)
	}
	return aliases
}

// FindSatellite looks a satellite up by alias.
func FindSatellite(alias string) (Satellite, error) {
	for _, s := range cat.Satellites {
		if s.Alias == alias {
			return s, nil
		}
	}
	return Satellite{}, errors.Errorf("unknown satellite %q", alias)
}

// FindLNB looks an LNB up by model.
func FindLNB(model string) (LNB, error) {
	for _, l := range cat.LNBs {
		if l.Model == model {
			return l, nil
		}
	}
	return LNB{}, errors.Errorf("unknown LNB %q", model)
}

// ValidKind reports whether kind names a supported receiver kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindStandalone, KindUSB, KindSDR, KindSatIP:
		return true
	}
	return false
}
