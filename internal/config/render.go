package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Render encodes the configuration as json, yaml or toml. Secrets are redacted.
func (c *Config) Render(format string) ([]byte, error) {
	safe := *c
	if safe.Repo.Token != "" {
		safe.Repo.Token = redacted
	}
	if safe.Server.AdminTokenHash != "" {
		safe.Server.AdminTokenHash = redacted
	}

	switch format {
	case "", "json":
		return json.MarshalIndent(&safe, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(&safe)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(&safe); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, &ConfigError{Field: "format", Message: fmt.Sprintf("unknown format %q", format)}
	}
}
