package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/resttap/resttap/pkg/errors"
)

// Load reads a connector configuration from a YAML file (JSON documents
// parse as well), substitutes ${ENV_VAR} references, applies defaults, and
// validates fail-fast.
func Load(filePath string) (*ConnectorConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes, defaults, and validates a raw configuration document.
func Parse(data []byte) (*ConnectorConfig, error) {
	content := substituteEnvVars(string(data))

	cfg := &ConnectorConfig{}
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
