package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/equipstat/internal/utils"
)

// EnvPrefix namespaces environment overrides, e.g. EQUIPSTAT_STORE_DRIVER.
const EnvPrefix = "EQUIPSTAT"

const dirName = ".equipstat"

// Global configuration structure.
type Global struct {
	Server  Server  `mapstructure:"server" yaml:"server"`
	Store   Store   `mapstructure:"store" yaml:"store"`
	Blob    Blob    `mapstructure:"blob" yaml:"blob"`
	History History `mapstructure:"history" yaml:"history"`
	Report  Report  `mapstructure:"report" yaml:"report"`
	Log     Log     `mapstructure:"log" yaml:"log"`
}

// Server configures the HTTP API.
type Server struct {
	Addr              string `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadTimeoutSec    int    `mapstructure:"read_timeout_sec" yaml:"read_timeout_sec" validate:"gte=0"`
	WriteTimeoutSec   int    `mapstructure:"write_timeout_sec" yaml:"write_timeout_sec" validate:"gte=0"`
	MaxUploadMB       int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" validate:"gt=0"`
	BasicAuthUser     string `mapstructure:"basic_auth_user" yaml:"basic_auth_user,omitempty"`
	BasicAuthPassword string `mapstructure:"basic_auth_password" yaml:"basic_auth_password,omitempty" validate:"required_with=BasicAuthUser"`
}

// Store selects the record persistence driver.
type Store struct {
	Driver      string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres memory"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn,omitempty" validate:"required_if=Driver postgres"`
}

// Blob selects where raw uploads are retained.
type Blob struct {
	Driver      string `mapstructure:"driver" yaml:"driver" validate:"oneof=fs s3 memory none"`
	FSRoot      string `mapstructure:"fs_root" yaml:"fs_root" validate:"required_if=Driver fs"`
	S3Bucket    string `mapstructure:"s3_bucket" yaml:"s3_bucket,omitempty" validate:"required_if=Driver s3"`
	S3Region    string `mapstructure:"s3_region" yaml:"s3_region,omitempty"`
	S3Endpoint  string `mapstructure:"s3_endpoint" yaml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3PathStyle bool   `mapstructure:"s3_path_style" yaml:"s3_path_style"`
}

// History bounds list responses.
type History struct {
	// Limit caps history listings; 0 lists everything.
	Limit int `mapstructure:"limit" yaml:"limit" validate:"gte=0"`
}

// Report tunes PDF output.
type Report struct {
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// Dir returns ~/.equipstat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.write_timeout_sec", 30)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.basic_auth_user", "")
	v.SetDefault("server.basic_auth_password", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", filepath.Join(dir, "equipstat.db"))
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", filepath.Join(dir, "uploads"))
	v.SetDefault("blob.s3_bucket", "")
	v.SetDefault("blob.s3_region", "")
	v.SetDefault("blob.s3_endpoint", "")
	v.SetDefault("blob.s3_path_style", false)
	v.SetDefault("history.limit", 0)
	v.SetDefault("report.compress", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file (cfgFile or ~/.equipstat/config.yaml) > defaults.
// Command-line flags are applied on top by the caller.
func Load(cfgFile string) (*Global, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, dir)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// the file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Store.SQLitePath, err = utils.ExpandHome(c.Store.SQLitePath); err != nil {
		return nil, err
	}
	if c.Blob.FSRoot, err = utils.ExpandHome(c.Blob.FSRoot); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration Load yields with no file and no environment.
func Default() (*Global, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	setDefaults(v, dir)
	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.equipstat/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c *Global) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := keyForNamespace(fe.StructNamespace())
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", key, fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", key, map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param())
	case "url":
		return key + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}
