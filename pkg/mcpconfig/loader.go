// Package mcpconfig loads manager configuration from YAML files and watches
// them for changes.
package mcpconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

// File is the on-disk YAML schema. Pointer fields distinguish an explicit
// zero from an omitted value so defaults apply only to the latter.
type File struct {
	Enabled                  *bool         `yaml:"enabled"`
	DefaultTimeoutMs         *int          `yaml:"defaultTimeoutMs"`
	MaxConcurrentConnections *int          `yaml:"maxConcurrentConnections"`
	RetryAttempts            *int          `yaml:"retryAttempts"`
	Servers                  []ServerEntry `yaml:"servers"`
}

// ServerEntry is one server in the YAML file.
type ServerEntry struct {
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	Enabled         *bool          `yaml:"enabled"`
	Priority        *int           `yaml:"priority"`
	TimeoutMs       int            `yaml:"timeoutMs"`
	AllowedTools    []string       `yaml:"allowedTools"`
	DisallowedTools []string       `yaml:"disallowedTools"`
	Transport       TransportEntry `yaml:"transport"`
}

// TransportEntry holds the fields of both transport kinds; Kind selects
// which ones apply.
type TransportEntry struct {
	Kind string `yaml:"kind"`

	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Cwd     string            `yaml:"cwd"`

	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeoutMs"`
	PreferSSE *bool             `yaml:"preferSse"`
}

// Load reads a YAML config file and returns the validated GlobalConfig with
// environment references resolved.
func Load(path string) (mcpmgr.GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mcpmgr.GlobalConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return mcpmgr.GlobalConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config data. Unknown keys are rejected. An empty
// document yields the default configuration with no servers.
func Parse(data []byte) (mcpmgr.GlobalConfig, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return mcpmgr.GlobalConfig{}, fmt.Errorf("parse: %w", err)
	}
	return file.GlobalConfig()
}

// GlobalConfig converts the file into a validated mcpmgr.GlobalConfig.
func (f File) GlobalConfig() (mcpmgr.GlobalConfig, error) {
	cfg := mcpmgr.DefaultGlobalConfig()
	if f.Enabled != nil {
		cfg.Enabled = *f.Enabled
	}
	if f.DefaultTimeoutMs != nil {
		cfg.DefaultTimeout = millis(*f.DefaultTimeoutMs)
	}
	if f.MaxConcurrentConnections != nil {
		cfg.MaxConcurrentConnections = *f.MaxConcurrentConnections
	}
	if f.RetryAttempts != nil {
		cfg.RetryAttempts = *f.RetryAttempts
	}

	var errs []error
	for _, entry := range f.Servers {
		desc, err := entry.descriptor()
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Servers = append(cfg.Servers, desc)
	}
	if len(errs) > 0 {
		return mcpmgr.GlobalConfig{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return mcpmgr.GlobalConfig{}, err
	}
	return cfg, nil
}

func (e ServerEntry) descriptor() (mcpmgr.ServerDescriptor, error) {
	transport, err := e.Transport.config(e.Name)
	desc := mcpmgr.NewServerDescriptor(e.Name, transport)
	desc.Description = e.Description
	if e.Enabled != nil {
		desc.Enabled = *e.Enabled
	}
	if e.Priority != nil {
		desc.Priority = *e.Priority
	}
	desc.Timeout = millis(e.TimeoutMs)
	desc.AllowedTools = e.AllowedTools
	desc.DisallowedTools = e.DisallowedTools
	return desc, err
}

func (t TransportEntry) config(server string) (mcpmgr.TransportConfig, error) {
	switch mcpmgr.TransportKind(t.Kind) {
	case mcpmgr.TransportProcess:
		return &mcpmgr.ProcessTransport{
			Command: ResolveEnvVar(t.Command),
			Args:    t.Args,
			Env:     resolveEnvMap(t.Env),
			Cwd:     ResolveEnvVar(t.Cwd),
		}, nil
	case mcpmgr.TransportStream:
		return &mcpmgr.StreamTransport{
			URL:       ResolveEnvVar(t.URL),
			Headers:   resolveEnvMap(t.Headers),
			Timeout:   millis(t.TimeoutMs),
			PreferSSE: t.PreferSSE,
		}, nil
	case "":
		return nil, &mcpmgr.ValidationError{Server: server, Field: "transport.kind", Reason: "is required"}
	default:
		return nil, &mcpmgr.ValidationError{Server: server, Field: "transport.kind", Reason: fmt.Sprintf("%q is not one of process, stream", t.Kind)}
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
