package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Setup is the subset of the configuration editable through the web API.
type Setup struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	MaxPower int    `json:"maxpower"`
	Device   string `json:"device"`
	BaudRate int    `json:"baud_rate"`
}

// SetupFrom extracts the editable settings.
func SetupFrom(c *Config) Setup {
	return Setup{
		Input:    c.Driver.Input,
		Output:   c.Driver.Output,
		MaxPower: c.SunSpec.MaxPower,
		Device:   c.RTU.Device,
		BaudRate: c.RTU.BaudRate,
	}
}

// WriteSetup merges s into the YAML file at path, keeping every other key.
// The file is replaced atomically.
func WriteSetup(path string, s Setup) error {
	doc := map[string]any{}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	section(doc, "driver")["input"] = s.Input
	section(doc, "driver")["output"] = s.Output
	section(doc, "sunspec")["max_power"] = s.MaxPower
	section(doc, "rtu")["device"] = s.Device
	section(doc, "rtu")["baud_rate"] = s.BaudRate

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gateway-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func section(doc map[string]any, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	doc[key] = m
	return m
}
