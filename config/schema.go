package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/relaykit/errors"
)

// configSchema structurally validates the YAML document before it is bound
// to the Config struct, so a typoed section name fails loudly instead of
// silently falling back to defaults.
const configSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "addr": {"type": "string"},
        "playground": {"type": "boolean"},
        "rate_limit": {"type": "number", "minimum": 0},
        "rate_burst": {"type": "integer", "minimum": 0},
        "shutdown_timeout": {"type": "string"}
      }
    },
    "transport": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "mode": {"type": "string", "enum": ["local", "nats"]}
      }
    },
    "nats": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "urls": {"type": "array", "items": {"type": "string"}},
        "max_reconnects": {"type": "integer"},
        "reconnect_wait": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "token": {"type": "string"}
      }
    },
    "auth": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "secret": {"type": "string"},
        "issuer": {"type": "string"},
        "ttl": {"type": "string"},
        "roles": {
          "type": "object",
          "additionalProperties": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "pagination": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "default_page_size": {"type": "integer", "minimum": 1},
        "max_page_size": {"type": "integer", "minimum": 1}
      }
    },
    "mutation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"type": "string"},
        "workers": {"type": "integer", "minimum": 1},
        "queue_size": {"type": "integer", "minimum": 1}
      }
    },
    "cache": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "subscription_buffer": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["json", "text"]}
      }
    }
  }
}`

// ValidateSchema checks a raw YAML config document against the structural
// schema.
func ValidateSchema(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "ValidateSchema",
			fmt.Sprintf("parse YAML: %v", err))
	}
	if doc == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return errors.WrapFatal(err, "Config", "ValidateSchema", "run schema validation")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "ValidateSchema",
			strings.Join(msgs, "; "))
	}
	return nil
}
