package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RUNTIME"

// Load reads Settings from path (YAML), falling back to Default for
// any key the file omits, then applies RUNTIME_-prefixed environment
// overrides (e.g. RUNTIME_SCHEDULER_FRAME_BUDGET). A missing file is
// not an error: Load returns Default with only env overrides applied.
func Load(path string) (*Settings, error) {
	settings := Default()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed every key from Default: viper only consults the environment
	// for keys it already knows, so keys the file omits need a value here.
	defaults, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("config: marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("config: seed defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			_, missing := err.(viper.ConfigFileNotFoundError)
			if !missing && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&settings, func(c *mapstructure.DecoderConfig) { c.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("config: decode settings: %w", err)
	}
	return &settings, nil
}
