package persistence

import (
	"context"
	"os"
	"regexp"
	"strings"
	"sync"

	"garage-bridge/internal/domain/model"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"
)

// Matches ${VAR} and ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// YAMLConfigRepository loads the accessory configuration from a YAML file.
// ${VAR} and ${VAR:default} references are expanded from the environment
// before parsing. A ${VAR} without a default must be set.
type YAMLConfigRepository struct {
	filepath string
	validate *validator.Validate
	mu       sync.Mutex
}

func NewYAMLConfigRepository(filepath string) *YAMLConfigRepository {
	return &YAMLConfigRepository{
		filepath: filepath,
		validate: validator.New(),
	}
}

func (r *YAMLConfigRepository) Get(ctx context.Context) (*model.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.filepath)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	expanded, unset := expandEnvVars(string(data))
	if len(unset) > 0 {
		return nil, errors.Errorf("config references unset environment variables: %s", strings.Join(unset, ", "))
	}

	var cfg model.Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, "yaml un-marshal failed")
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set default field values")
	}

	if err := r.validate.Struct(&cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, e.Namespace())
			}
			return nil, errors.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}

// expandEnvVars substitutes environment references and returns the names of
// variables that are neither set nor given a default.
func expandEnvVars(s string) (string, []string) {
	var unset []string
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(parts[1]); ok && val != "" {
			return val
		}
		if strings.Contains(match, ":") {
			return parts[2]
		}
		unset = append(unset, parts[1])
		return ""
	})
	return out, unset
}
