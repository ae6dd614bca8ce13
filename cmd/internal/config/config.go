// Copyright 2024 Rektor Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads auditor settings from a YAML file. Everything in the
// file can also be set with command-line flags; flags win when both are given.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rektor-dev/rektor/client"
)

// Config holds the auditor's settings.
type Config struct {
	// RekorURL is the base URL of the log's REST API, including the
	// API prefix.
	RekorURL string
	// Timeout bounds each individual HTTP request to the log.
	Timeout time.Duration
}

// Default returns the configuration used when no file and no flags are given.
func Default() Config {
	return Config{RekorURL: client.DefaultBaseURL}
}

// UnmarshalYAML implements yaml.Unmarshaler so that timeouts can be written
// in the file as duration strings ("10s", "1m30s").
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		RekorURL string `yaml:"rekor_url"`
		Timeout  string `yaml:"timeout"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.RekorURL != "" {
		c.RekorURL = raw.RekorURL
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %v", raw.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid timeout %q: must be positive", raw.Timeout)
		}
		c.Timeout = d
	}
	return nil
}

// Load reads a configuration file, overlaying its settings on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %q: %v", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %q: %v", path, err)
	}
	return cfg, nil
}
