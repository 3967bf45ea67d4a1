package config

import (
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/go-playground/validator.v9"

	"github.com/ardnew/usbserial/pkg"
)

// ViperSetDefaults sets the default values for the viper config. Callers
// that merge usbserial settings into their own viper instance use it before
// unmarshaling a Config.
func ViperSetDefaults(v *viper.Viper) {
	keys := map[string]interface{}{
		"log.level":  "warn",
		"log.format": "text",
	}
	for k, value := range keys {
		v.SetDefault(k, value)
	}
}

// ReadConfig reads the config file at path. The format follows the file
// extension (yaml, toml, json).
func ReadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	ViperSetDefaults(v)
	return read(v)
}

// ReadNamedConfig reads the config with the provided name (no extension)
// from paths, or from "." and "configs" when none are given.
func ReadNamedConfig(name string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	if len(paths) == 0 {
		paths = []string{".", "configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	ViperSetDefaults(v)
	return read(v)
}

func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		pkg.LogDebug(pkg.ComponentConfig, "unmarshaling config failed", "error", err)
		return nil, err
	}
	c.fill()

	pkg.LogDebug(pkg.ComponentConfig, "config read",
		"file", v.ConfigFileUsed(),
		"sets", len(c.Drivers))
	return c, nil
}

// defaultNumPorts applies to sub-drivers that leave num_ports unset. Viper
// defaults cannot reach into list elements.
const defaultNumPorts = 1

func (c *Config) fill() {
	for _, s := range c.Drivers {
		if s == nil {
			continue
		}
		for _, sd := range s.SubDrivers {
			if sd != nil && sd.NumPorts == 0 {
				sd.NumPorts = defaultNumPorts
			}
		}
	}
}

// Validate checks struct constraints, name uniqueness, and that every ID
// entry converts.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	sets := make(map[string]struct{}, len(c.Drivers))
	subs := make(map[string]string)
	for _, s := range c.Drivers {
		if _, dup := sets[s.Name]; dup {
			return fmt.Errorf("config: duplicate set %q: %w", s.Name, pkg.ErrInvalidParameter)
		}
		sets[s.Name] = struct{}{}

		for _, sd := range s.SubDrivers {
			if owner, dup := subs[sd.Name]; dup {
				return fmt.Errorf("config: sub-driver %q in %q already declared by %q: %w",
					sd.Name, s.Name, owner, pkg.ErrInvalidParameter)
			}
			subs[sd.Name] = s.Name
		}

		if _, err := s.IDTable(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}
