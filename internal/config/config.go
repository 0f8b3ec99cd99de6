package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	// Feed location. feed_url wins when both are set; the S3 settings
	// serve private distribution channels.
	FeedURL    string `mapstructure:"feed_url"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Key      string `mapstructure:"s3_key"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	// Host application identity. Empty values fall back to the
	// build-time version variables.
	AppName       string `mapstructure:"app_name"`
	AppVersion    string `mapstructure:"app_version"`
	AppBuild      string `mapstructure:"app_build"`
	AppBundlePath string `mapstructure:"app_bundle_path"`

	AllowAutoDownload        bool `mapstructure:"allow_auto_download"`
	AllowAutoInstall         bool `mapstructure:"allow_auto_install"`
	AutocheckIntervalSeconds int  `mapstructure:"autocheck_interval_seconds"`

	InstallerSocket string `mapstructure:"installer_socket"`
	StagingDir      string `mapstructure:"staging_dir"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func Default() *Config {
	return &Config{
		AutocheckIntervalSeconds: 3600,
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("autoupdate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUTOUPDATE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("feed_url", cfg.FeedURL)
	viper.Set("s3_bucket", cfg.S3Bucket)
	viper.Set("s3_key", cfg.S3Key)
	viper.Set("s3_region", cfg.S3Region)
	viper.Set("s3_endpoint", cfg.S3Endpoint)
	viper.Set("app_name", cfg.AppName)
	viper.Set("app_version", cfg.AppVersion)
	viper.Set("app_build", cfg.AppBuild)
	viper.Set("app_bundle_path", cfg.AppBundlePath)
	viper.Set("allow_auto_download", cfg.AllowAutoDownload)
	viper.Set("allow_auto_install", cfg.AllowAutoInstall)
	viper.Set("autocheck_interval_seconds", cfg.AutocheckIntervalSeconds)
	viper.Set("installer_socket", cfg.InstallerSocket)
	viper.Set("staging_dir", cfg.StagingDir)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "autoupdate.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Beam")
	case "darwin":
		return "/Library/Application Support/Beam"
	default:
		return "/etc/beam"
	}
}
