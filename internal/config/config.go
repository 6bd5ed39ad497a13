// Package config loads the fleet server's startup configuration: bind
// address, timeouts, thread-pool sizes, and the map source. Every field
// has a default, so a missing config file is not an error.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Map    MapConfig    `yaml:"map"`
}

type ServerConfig struct {
	IP           string     `yaml:"ip"`
	Port         int        `yaml:"port"`
	TcpTimeoutS  int        `yaml:"tcp_timeout_s"`
	RpcTimeoutMs int        `yaml:"rpc_timeout_ms"`
	ThreadsNum   ThreadsNum `yaml:"threads_num"`
}

type ThreadsNum struct {
	IO     int `yaml:"io"`
	Worker int `yaml:"worker"`
}

// MapType selects how the static grid map is built at startup.
type MapType string

const (
	MapDefault MapType = "DEFAULT"
	MapFile    MapType = "FILE"
	MapRandom  MapType = "RANDOM"
)

type MapConfig struct {
	Type   MapType `yaml:"type"`
	Path   string  `yaml:"path"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Ratio  float64 `yaml:"ratio"`
}

// Defaults returns the configuration the server boots with when no
// config file is present, or as the base a config file overlays onto.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			IP:           "0.0.0.0",
			Port:         8888,
			TcpTimeoutS:  60,
			RpcTimeoutMs: 5000,
			ThreadsNum:   ThreadsNum{IO: 2, Worker: 2},
		},
		Map: MapConfig{
			Type:   MapDefault,
			Width:  10,
			Height: 10,
			Ratio:  0.2,
		},
	}
}

// Load reads path and overlays it onto Defaults. A missing file is not
// an error: the caller gets the defaults back unmodified.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
