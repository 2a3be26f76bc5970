package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/errors/v5"
	"gopkg.in/yaml.v2"
)

// missingEnvPrefix marks an unresolved ${VAR} placeholder so Validate can
// reject the config instead of silently connecting with a literal sentinel.
const missingEnvPrefix = "<MISSING:"

var envPlaceholder = regexp.MustCompile(`\$\{([^}^{]+)\}`)

// substituteEnv replaces ${VAR} placeholders in the raw config text with the
// value of the corresponding environment variable.
func substituteEnv(raw []byte) []byte {
	return envPlaceholder.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(envPlaceholder.FindSubmatch(match)[1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(fmt.Sprintf("%s%s>", missingEnvPrefix, name))
	})
}

func ReadConfigYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read yaml config")
	}

	c := Config{}

	err = yaml.Unmarshal(substituteEnv(b), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "yaml config file parse")
	}

	return c, nil
}

func ReadConfigJSON(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read json config")
	}

	c := Config{}

	err = json.Unmarshal(substituteEnv(b), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "json config file parse")
	}

	return c, nil
}
