package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode strictly decodes b onto Default() and validates the result.
// Files ending in .json are read as JSON, everything else as YAML.
// Unknown keys and trailing documents are errors.
func Decode(path string, b []byte) (*Config, error) {
	cfg := Default()
	// Lists replace the defaults instead of merging with them.
	cfg.Jobs = nil

	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = decodeJSON(b, cfg)
	} else {
		err = decodeYAML(b, cfg)
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.Jobs) == 0 {
		cfg.Jobs = []JobConfig{DefaultJob()}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeJSON(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("json: trailing data after config object")
	}
	return nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file means defaults.
			return nil
		}
		return fmt.Errorf("yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("yaml: only one document allowed")
	}
	return nil
}

// ParseDurationField parses an optional Go duration found at path. An
// empty value is zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for
// empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}
