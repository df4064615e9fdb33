package persist

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const configFilename = "config.ini"

// Config is the manager's persistent settings (spec.md §6's "Configuration
// store"): an INI file under the cache directory with two recognized
// boolean keys. Keys this package does not recognize are preserved
// verbatim on Save, so a future version's settings are never clobbered by
// an older binary.
type Config struct {
	AutoIndexInternal bool
	AutoIndexExternal bool

	path string
	file *ini.File
}

// LoadConfig reads dir/config.ini. If the file does not yet exist it
// starts from an empty in-memory configuration; nothing is written until
// Save. A missing key defaults autoIndexInternal to true and
// autoIndexExternal to false.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configFilename)

	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		if os.IsNotExist(err) {
			f = ini.Empty()
		} else {
			return nil, errors.Wrap(err, "load config.ini")
		}
	}

	sec := f.Section("")
	c := &Config{
		AutoIndexInternal: sec.Key("autoIndexInternal").MustBool(true),
		AutoIndexExternal: sec.Key("autoIndexExternal").MustBool(false),
		path:              path,
		file:              f,
	}
	return c, nil
}

// Save writes the config back to disk, preserving any keys this package
// does not recognize.
func (c *Config) Save() error {
	sec := c.file.Section("")
	sec.Key("autoIndexInternal").SetValue(boolStr(c.AutoIndexInternal))
	sec.Key("autoIndexExternal").SetValue(boolStr(c.AutoIndexExternal))
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	if err := c.file.SaveTo(c.path); err != nil {
		return errors.Wrap(err, "save config.ini")
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
