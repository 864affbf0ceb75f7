package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// Config governs access to process configuration
type Config interface {
	JobsPath() string
	UploadPath() string
	TempPath() string
	DatabasePath() string
	Address() string
	AllowedOrigin() string
}

type config struct {
	JobsPathAttr      string `envconfig:"JOBS_PATH"`
	UploadPathAttr    string `envconfig:"UPLOAD_PATH"`
	TempPathAttr      string `envconfig:"TEMP_PATH"`
	DatabasePathAttr  string `envconfig:"DATABASE_PATH"`
	BindHostAttr      string `envconfig:"BIND_HOST"`
	BindPortAttr      int    `envconfig:"BIND_PORT"`
	AllowedOriginAttr string `envconfig:"ALLOWED_ORIGIN"`
}

// NewConfigWithDefaults returns a Config object with default values already
// applied
func NewConfigWithDefaults() Config {
	return &config{
		JobsPathAttr:      "/tmp",
		UploadPathAttr:    "/tmp/ua-repack-in",
		BindHostAttr:      "localhost",
		BindPortAttr:      8081,
		AllowedOriginAttr: "*",
	}
}

// GetConfigFromEnvironment returns configuration derived from environment
// variables. Paths may start with ~.
func GetConfigFromEnvironment() (Config, error) {
	c := NewConfigWithDefaults().(*config)
	if err := envconfig.Process("", c); err != nil {
		return c, errors.Wrap(err, "error reading configuration")
	}

	if c.BindPortAttr <= 0 || c.BindPortAttr > 65535 {
		return c, errors.Errorf("BIND_PORT %d is out of range", c.BindPortAttr)
	}
	if c.JobsPathAttr == "" {
		return c, errors.New("a value is required for the JOBS_PATH environment variable")
	}

	for _, p := range []*string{
		&c.JobsPathAttr,
		&c.UploadPathAttr,
		&c.TempPathAttr,
		&c.DatabasePathAttr,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return c, errors.Wrapf(err, "error expanding path %s", *p)
		}
		*p = expanded
	}
	if c.UploadPathAttr == "" {
		c.UploadPathAttr = filepath.Join(c.JobsPathAttr, "ua-repack-in")
	}
	return c, nil
}

// EnsureDirs creates the directories the configuration refers to
func EnsureDirs(c Config) error {
	for _, dir := range []string{c.JobsPath(), c.UploadPath(), c.TempPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "error creating directory %s", dir)
		}
	}
	return nil
}

func (c *config) JobsPath() string {
	return c.JobsPathAttr
}

func (c *config) UploadPath() string {
	return c.UploadPathAttr
}

func (c *config) TempPath() string {
	if c.TempPathAttr == "" {
		return os.TempDir()
	}
	return c.TempPathAttr
}

func (c *config) DatabasePath() string {
	if c.DatabasePathAttr == "" {
		return filepath.Join(c.JobsPathAttr, "umod-repack.db")
	}
	return c.DatabasePathAttr
}

func (c *config) Address() string {
	return fmt.Sprintf("%s:%d", c.BindHostAttr, c.BindPortAttr)
}

func (c *config) AllowedOrigin() string {
	return c.AllowedOriginAttr
}
