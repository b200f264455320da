package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDiscoveryListen = ":63093"
	DefaultWebListen       = ":8080"
	DefaultGPSDAddr        = "127.0.0.1:2947"
	DefaultBaud            = 9600
)

type Config struct {
	// DeviceName is the long name announced in the device identification.
	DeviceName string          `yaml:"device_name"`
	Discovery  DiscoveryConfig `yaml:"discovery"`
	GPS        GPSConfig       `yaml:"gps"`
	Web        WebConfig       `yaml:"web"`
	Log        LogConfig       `yaml:"log"`
}

type DiscoveryConfig struct {
	Listen string `yaml:"listen"`
}

type GPSConfig struct {
	// Source is "nmea" (serial receiver), "gpsd" or "sim".
	Source   string    `yaml:"source"`
	Device   string    `yaml:"device"`
	Baud     int       `yaml:"baud"`
	GPSDAddr string    `yaml:"gpsd_addr"`
	Sim      SimConfig `yaml:"sim"`
}

// SimConfig places the simulated ownship when gps.source is "sim".
type SimConfig struct {
	CenterLatDeg float64 `yaml:"center_lat_deg"`
	CenterLonDeg float64 `yaml:"center_lon_deg"`
	AltFeet      int     `yaml:"alt_feet"`
	GroundKt     int     `yaml:"ground_kt"`
	RadiusNm     float64 `yaml:"radius_nm"`
}

type WebConfig struct {
	Enable *bool  `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// Enabled defaults to true when unset.
func (w WebConfig) Enabled() bool {
	return w.Enable == nil || *w.Enable
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var hostname = os.Hostname

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and rejects invalid ones. It is used
// directly when running without a config file.
func DefaultAndValidate(cfg *Config) error {
	cfg.DeviceName = strings.TrimSpace(cfg.DeviceName)
	if cfg.DeviceName == "" {
		h, err := hostname()
		if err != nil || strings.TrimSpace(h) == "" {
			h = "localhost"
		}
		cfg.DeviceName = "efbgps@" + strings.TrimSpace(h)
	}

	cfg.Discovery.Listen = strings.TrimSpace(cfg.Discovery.Listen)
	if cfg.Discovery.Listen == "" {
		cfg.Discovery.Listen = DefaultDiscoveryListen
	}
	if err := validateListen(cfg.Discovery.Listen); err != nil {
		return fmt.Errorf("discovery.listen is invalid: %v", err)
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	if cfg.GPS.Source != "nmea" && cfg.GPS.Source != "gpsd" && cfg.GPS.Source != "sim" {
		return fmt.Errorf("gps.source must be 'nmea', 'gpsd' or 'sim'")
	}
	if cfg.GPS.Source == "sim" {
		if cfg.GPS.Sim.CenterLatDeg < -89 || cfg.GPS.Sim.CenterLatDeg > 89 {
			return fmt.Errorf("gps.sim.center_lat_deg must be within [-89, 89]")
		}
		if cfg.GPS.Sim.CenterLonDeg < -180 || cfg.GPS.Sim.CenterLonDeg > 180 {
			return fmt.Errorf("gps.sim.center_lon_deg must be within [-180, 180]")
		}
	}
	cfg.GPS.Device = strings.TrimSpace(cfg.GPS.Device)
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = DefaultBaud
	}
	if cfg.GPS.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}
	cfg.GPS.GPSDAddr = strings.TrimSpace(cfg.GPS.GPSDAddr)
	if cfg.GPS.GPSDAddr == "" {
		cfg.GPS.GPSDAddr = DefaultGPSDAddr
	}
	if cfg.GPS.Source == "gpsd" {
		if _, _, err := net.SplitHostPort(cfg.GPS.GPSDAddr); err != nil {
			return fmt.Errorf("gps.gpsd_addr is invalid: %v", err)
		}
	}

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = DefaultWebListen
	}
	if cfg.Web.Enabled() {
		if err := validateListen(cfg.Web.Listen); err != nil {
			return fmt.Errorf("web.listen is invalid: %v", err)
		}
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level is invalid")
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}
	return nil
}

func validateListen(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("bad port %q", port)
	}
	return nil
}
