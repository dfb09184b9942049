package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigName is the optional per-project configuration file probed in
// the working directory.
const ConfigName = ".blot.yaml"

// Config is the project configuration. Flags given on the command line
// override everything here.
type Config struct {
	Port    int    `yaml:"port"`
	CCJ     string `yaml:"ccj"`
	WebRoot string `yaml:"web_root"`
	Options struct {
		Demangle                 *bool `yaml:"demangle"`
		PreserveDirectives       *bool `yaml:"preserve_directives"`
		PreserveComments         *bool `yaml:"preserve_comments"`
		PreserveLibraryFunctions *bool `yaml:"preserve_library_functions"`
		PreserveUnusedLabels     *bool `yaml:"preserve_unused_labels"`
	} `yaml:"options"`
}

// LoadConfig reads dir/.blot.yaml. A missing file is not an error and
// yields a zero Config; a malformed one is.
func LoadConfig(dir string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(filepath.Join(dir, ConfigName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, WrapExitError(ExitIO, "read "+ConfigName, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, WrapExitError(ExitUsage, fmt.Sprintf("parse %s", ConfigName), err)
	}
	return cfg, nil
}
