// Package config loads the proxy configuration file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort             = 5569
	DefaultMaxViewers       = 16
	DefaultMaxPendingWrites = 32
	DefaultHelloTimeout     = 10 * time.Second
	DefaultWriteTimeout     = 2 * time.Second

	maxUniverse = 63999
	maxSlot     = 511
)

type Config struct {
	// Interface is the name of the interface sACN is received on. Empty lets
	// the OS pick.
	Interface string `yaml:"interface" toml:"interface"`
	// LockedUniverse pins every viewer to one universe. Zero means viewers
	// choose.
	LockedUniverse uint16 `yaml:"lockedUniverse" toml:"lockedUniverse"`
	// ReceiveBuffer sets the kernel receive buffer of each multicast socket
	// in bytes. Zero keeps the OS default.
	ReceiveBuffer int    `yaml:"receiveBuffer" toml:"receiveBuffer"`
	Listen        Listen `yaml:"listen" toml:"listen"`
	Admin         Admin  `yaml:"admin" toml:"admin"`
	Lights        Lights `yaml:"lights" toml:"lights"`
}

type Listen struct {
	Host             string        `yaml:"host" toml:"host"`
	Port             int           `yaml:"port" toml:"port"`
	MaxViewers       int           `yaml:"maxViewers" toml:"maxViewers"`
	MaxPendingWrites int           `yaml:"maxPendingWrites" toml:"maxPendingWrites"`
	HelloTimeout     time.Duration `yaml:"helloTimeout" toml:"helloTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
}

// Addr is the TCP address viewers connect to.
func (l Listen) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// Admin configures the HTTP status and metrics endpoint. Empty Addr disables it.
type Admin struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Lights drives bluetooth lights from one universe.
type Lights struct {
	Universe uint16           `yaml:"universe" toml:"universe"`
	Output   map[string]Light `yaml:"output" toml:"output"`
}

// Light picks its colour channels from the universe by slot index. Index 0 is
// the first DMX slot; the start code is not counted. Configs written for
// merry-lighting counted the start code as index 0, so their indexes are one
// too high here.
type Light struct {
	MACAddress string `yaml:"mac" toml:"mac"`
	UUID       string `yaml:"uuid" toml:"uuid"`
	RedByte    int    `yaml:"redByte" toml:"redByte"`
	GreenByte  int    `yaml:"greenByte" toml:"greenByte"`
	BlueByte   int    `yaml:"blueByte" toml:"blueByte"`
}

func Default() *Config {
	return &Config{
		Listen: Listen{
			Port:             DefaultPort,
			MaxViewers:       DefaultMaxViewers,
			MaxPendingWrites: DefaultMaxPendingWrites,
			HelloTimeout:     DefaultHelloTimeout,
			WriteTimeout:     DefaultWriteTimeout,
		},
	}
}

// Load reads a YAML or TOML (by extension) file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	conf := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(b), conf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, conf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %v", c.Listen.Port)
	}
	if c.Listen.MaxViewers < 1 {
		return fmt.Errorf("maxViewers must be at least 1, got %v", c.Listen.MaxViewers)
	}
	if c.Listen.MaxPendingWrites < 1 {
		return fmt.Errorf("maxPendingWrites must be at least 1, got %v", c.Listen.MaxPendingWrites)
	}
	if c.Listen.HelloTimeout < 0 || c.Listen.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.ReceiveBuffer < 0 {
		return fmt.Errorf("receiveBuffer must not be negative, got %v", c.ReceiveBuffer)
	}
	if c.LockedUniverse > maxUniverse {
		return fmt.Errorf("invalid locked universe: %v", c.LockedUniverse)
	}

	if len(c.Lights.Output) > 0 {
		if c.Lights.Universe < 1 || c.Lights.Universe > maxUniverse {
			return fmt.Errorf("invalid lights universe: %v", c.Lights.Universe)
		}
		for ln, l := range c.Lights.Output {
			if l.MACAddress == "" && l.UUID == "" {
				return fmt.Errorf("light[%v] needs a mac or uuid", ln)
			}
			for _, b := range []int{l.RedByte, l.GreenByte, l.BlueByte} {
				if b < 0 || b > maxSlot {
					return fmt.Errorf("light[%v] slot out of range: %v", ln, b)
				}
			}
		}
	}
	return nil
}
