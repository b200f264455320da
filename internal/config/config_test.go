package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func withHostname(t *testing.T, name string, err error) {
	t.Helper()
	prev := hostname
	hostname = func() (string, error) { return name, err }
	t.Cleanup(func() { hostname = prev })
}

func TestLoad_DefaultsApplied(t *testing.T) {
	withHostname(t, "cockpit", nil)
	path := writeTempConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DeviceName != "efbgps@cockpit" {
		t.Fatalf("device_name=%q want efbgps@cockpit", cfg.DeviceName)
	}
	if cfg.Discovery.Listen != ":63093" {
		t.Fatalf("discovery.listen=%q want :63093", cfg.Discovery.Listen)
	}
	if cfg.GPS.Source != "nmea" || cfg.GPS.Baud != 9600 || cfg.GPS.GPSDAddr != "127.0.0.1:2947" {
		t.Fatalf("gps=%+v", cfg.GPS)
	}
	if !cfg.Web.Enabled() || cfg.Web.Listen != ":8080" {
		t.Fatalf("web=%+v", cfg.Web)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("log=%+v", cfg.Log)
	}
}

func TestLoad_HostnameFailureFallsBack(t *testing.T) {
	withHostname(t, "", errors.New("no hostname"))
	var cfg Config
	if err := DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	if cfg.DeviceName != "efbgps@localhost" {
		t.Fatalf("device_name=%q", cfg.DeviceName)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
device_name: "  Kitchen Pi  "
discovery:
  listen: "0.0.0.0:4000"
gps:
  source: GPSD
  gpsd_addr: "10.0.0.2:2947"
web:
  enable: false
  listen: "bogus"
log:
  level: DEBUG
  format: console
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DeviceName != "Kitchen Pi" {
		t.Fatalf("device_name=%q", cfg.DeviceName)
	}
	if cfg.Discovery.Listen != "0.0.0.0:4000" {
		t.Fatalf("discovery.listen=%q", cfg.Discovery.Listen)
	}
	if cfg.GPS.Source != "gpsd" || cfg.GPS.GPSDAddr != "10.0.0.2:2947" {
		t.Fatalf("gps=%+v", cfg.GPS)
	}
	// A disabled web server does not validate its listen address.
	if cfg.Web.Enabled() {
		t.Fatalf("web enabled=true want false")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Fatalf("log=%+v", cfg.Log)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{name: "gps source", yaml: "gps: {source: serial}\n", want: "gps.source must be 'nmea', 'gpsd' or 'sim'"},
		{name: "sim latitude", yaml: "gps: {source: sim, sim: {center_lat_deg: 91}}\n", want: "gps.sim.center_lat_deg must be within [-89, 89]"},
		{name: "sim longitude", yaml: "gps: {source: sim, sim: {center_lon_deg: -181}}\n", want: "gps.sim.center_lon_deg must be within [-180, 180]"},
		{name: "gps baud", yaml: "gps: {baud: -1}\n", want: "gps.baud must be > 0"},
		{name: "log level", yaml: "log: {level: loud}\n", want: "log.level is invalid"},
		{name: "log format", yaml: "log: {format: xml}\n", want: "log.format must be 'json' or 'console'"},
		{name: "discovery listen", yaml: "discovery: {listen: '63093'}\n", want: "discovery.listen is invalid: address 63093: missing port in address"},
		{name: "discovery port", yaml: "discovery: {listen: ':99999'}\n", want: "discovery.listen is invalid: bad port \"99999\""},
		{name: "web listen", yaml: "web: {listen: ':http'}\n", want: "web.listen is invalid: bad port \"http\""},
		{name: "gpsd addr", yaml: "gps: {source: gpsd, gpsd_addr: 'nohost'}\n", want: "gps.gpsd_addr is invalid: address nohost: missing port in address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.yaml)
			_, err := Load(path)
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want ErrNotExist", err)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeTempConfig(t, "gps: [\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error")
	}
}
