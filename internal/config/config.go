/*
Copyright 2025 IBM.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the proxy configuration.
//
// Values are resolved in priority order: command line flags, environment
// variables, the optional YAML file and finally the defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/llm-d/deepseek-proxy/internal/proxy"
)

// EnvironmentDevelopment enables stack traces in internal error responses
const EnvironmentDevelopment = "development"

// Environment variable names
const (
	EnvPort              = "PORT"
	EnvUpstreamURL       = "DEEPSEEK_API_URL"
	EnvUpstreamTimeout   = "DEEPSEEK_API_TIMEOUT"
	EnvEnvironment       = "ENVIRONMENT"
	EnvNodeEnv           = "NODE_ENV"
	EnvCountPromptTokens = "COUNT_PROMPT_TOKENS"
)

// Config holds the proxy configuration
type Config struct {
	// Port the standalone server listens on
	Port string `yaml:"port"`

	// UpstreamURL is the DeepSeek chat completions endpoint
	UpstreamURL string `yaml:"upstream_url"`

	// UpstreamTimeout bounds each upstream call. Zero leaves it to the hosting runtime.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// Environment is the deployment environment name
	Environment string `yaml:"environment"`

	// CountPromptTokens logs a prompt token estimate before each upstream call
	CountPromptTokens bool `yaml:"count_prompt_tokens"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Port:        "8000",
		UpstreamURL: proxy.DefaultUpstreamURL,
	}
}

// Development reports whether the proxy runs in a development environment
func (c *Config) Development() bool {
	return c.Environment == EnvironmentDevelopment
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored and existing variables are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides values with the environment variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.Port = v
	}
	if v, ok := lookup(EnvUpstreamURL); ok && v != "" {
		c.UpstreamURL = v
	}
	if v, ok := lookup(EnvUpstreamTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvUpstreamTimeout, err)
		}
		c.UpstreamTimeout = d
	}
	// NODE_ENV is what Netlify deployments already set
	if v, ok := lookup(EnvEnvironment); ok && v != "" {
		c.Environment = v
	} else if v, ok := lookup(EnvNodeEnv); ok && v != "" {
		c.Environment = v
	}
	if v, ok := lookup(EnvCountPromptTokens); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCountPromptTokens, err)
		}
		c.CountPromptTokens = b
	}
	return nil
}

// Flags holds the command line overrides registered on a FlagSet
type Flags struct {
	fs *flag.FlagSet

	ConfigFile        string
	port              string
	upstreamURL       string
	upstreamTimeout   time.Duration
	environment       string
	countPromptTokens bool
}

// RegisterFlags registers the configuration flags on set
func RegisterFlags(set *flag.FlagSet) *Flags {
	f := &Flags{fs: set}
	set.StringVar(&f.ConfigFile, "config", "", "path to an optional YAML configuration file")
	set.StringVar(&f.port, "port", "8000", "the port the proxy is listening on")
	set.StringVar(&f.upstreamURL, "upstream-url", proxy.DefaultUpstreamURL, "the DeepSeek chat completions endpoint")
	set.DurationVar(&f.upstreamTimeout, "upstream-timeout", 0, "timeout of each DeepSeek API call, 0 for none")
	set.StringVar(&f.environment, "environment", "", "the deployment environment. 'development' exposes stack traces")
	set.BoolVar(&f.countPromptTokens, "count-prompt-tokens", false, "log a prompt token estimate before each DeepSeek API call")
	return f
}

// Apply overrides cfg with the flags explicitly set on the command line
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Port = f.port
		case "upstream-url":
			cfg.UpstreamURL = f.upstreamURL
		case "upstream-timeout":
			cfg.UpstreamTimeout = f.upstreamTimeout
		case "environment":
			cfg.Environment = f.environment
		case "count-prompt-tokens":
			cfg.CountPromptTokens = f.countPromptTokens
		}
	})
}
