package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"standmask/util"
)

func decode(r io.Reader, ext string, c *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.NewDecoder(r).Decode(c)
	case ".json", "":
		return json.NewDecoder(r).Decode(c)
	default:
		return fmt.Errorf("unknown config format %q", ext)
	}
}

// Load reads a JSON or YAML file on top of Default. An empty path yields the
// defaults unchanged. The result is not validated; flags may still override
// fields before Validate is called.
func Load(path string) (Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return config, &util.ConfigurationError{Op: "open config", Err: err}
	}
	defer f.Close()
	if err := decode(f, filepath.Ext(path), &config); err != nil && err != io.EOF {
		return config, &util.ConfigurationError{Op: "decode " + path, Err: err}
	}
	log.Debugf("Loaded configuration from %v", path)
	return config, nil
}

// Dump logs the effective configuration.
func (c Config) Dump() {
	log.Infof("Effective configuration: %v", spew.Sdump(c))
}
