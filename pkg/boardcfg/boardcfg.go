// Copyright 2024 The Kestrel Authors.
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

// Package boardcfg loads board configuration from a TOML file.
package boardcfg

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kestrel-os/kestrel/pkg/kernel"
	"github.com/kestrel-os/kestrel/pkg/log"
)

// Config is a board description.
type Config struct {
	Name      string          `toml:"name"`
	Kernel    KernelConfig    `toml:"kernel"`
	Restart   RestartConfig   `toml:"restart"`
	Processes []ProcessConfig `toml:"process"`
}

// KernelConfig holds the kernel table sizes and logging level.
type KernelConfig struct {
	ProcSlots       int    `toml:"proc_slots"`
	TaskQueueDepth  int    `toml:"task_queue_depth"`
	GrantArenaSlots int    `toml:"grant_arena_slots"`
	LogLevel        string `toml:"log_level"`
}

// RestartConfig holds the process restart policy.
type RestartConfig struct {
	Policy            string `toml:"policy"` // "never" or "on-failure"
	InitialIntervalMS int    `toml:"initial_interval_ms"`
	MaxIntervalMS     int    `toml:"max_interval_ms"`
}

// ProcessConfig describes one process to load at boot.
type ProcessConfig struct {
	Name    string `toml:"name"`
	AppID   uint32 `toml:"app_id"`
	MemSize uint32 `toml:"mem_size"`
}

// Load reads and validates a board file.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("reading board config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("board config %q: %w", path, err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Restart.Policy {
	case "", "never", "on-failure":
	default:
		return fmt.Errorf("unknown restart policy %q", c.Restart.Policy)
	}
	switch c.Kernel.LogLevel {
	case "", "warning", "info", "debug":
	default:
		return fmt.Errorf("unknown log level %q", c.Kernel.LogLevel)
	}
	for i, p := range c.Processes {
		if p.Name == "" {
			return fmt.Errorf("process %d: missing name", i)
		}
		if p.MemSize == 0 {
			return fmt.Errorf("process %q: mem_size must be nonzero", p.Name)
		}
	}
	return nil
}

// LogLevel returns the configured level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	switch c.Kernel.LogLevel {
	case "warning":
		return log.Warning
	case "debug":
		return log.Debug
	default:
		return log.Info
	}
}

// KernelOptions translates the config into kernel Options.
func (c *Config) KernelOptions() kernel.Options {
	opts := kernel.Options{
		NumProcSlots:    c.Kernel.ProcSlots,
		TaskQueueDepth:  c.Kernel.TaskQueueDepth,
		GrantArenaSlots: c.Kernel.GrantArenaSlots,
	}
	if c.Restart.Policy == "on-failure" {
		opts.Restart = kernel.RestartOnFailure
	}
	if c.Restart.InitialIntervalMS > 0 {
		opts.RestartInitialInterval = time.Duration(c.Restart.InitialIntervalMS) * time.Millisecond
	}
	if c.Restart.MaxIntervalMS > 0 {
		opts.RestartMaxInterval = time.Duration(c.Restart.MaxIntervalMS) * time.Millisecond
	}
	return opts
}
