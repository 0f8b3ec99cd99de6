package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults. Other validation
// errors are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.FeedURL != "" {
		u, err := url.Parse(c.FeedURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed_url %q is not a valid URL: %w", c.FeedURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("feed_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.FeedURL == "" && c.S3Bucket == "" {
		errs = append(errs, fmt.Errorf("no feed configured: set feed_url or s3_bucket"))
	}
	if c.S3Bucket != "" && c.S3Key == "" {
		errs = append(errs, fmt.Errorf("s3_bucket is set but s3_key is empty"))
	}

	// Clamp the autocheck interval; a zero interval would make the
	// ticker panic, a tiny one would hammer the feed.
	if c.AutocheckIntervalSeconds < 60 {
		errs = append(errs, fmt.Errorf("autocheck_interval_seconds %d is below minimum 60, clamping", c.AutocheckIntervalSeconds))
		c.AutocheckIntervalSeconds = 60
	} else if c.AutocheckIntervalSeconds > 86400 {
		errs = append(errs, fmt.Errorf("autocheck_interval_seconds %d exceeds maximum 86400, clamping", c.AutocheckIntervalSeconds))
		c.AutocheckIntervalSeconds = 86400
	}

	if c.AllowAutoInstall && !c.AllowAutoDownload {
		errs = append(errs, fmt.Errorf("allow_auto_install without allow_auto_download has no effect"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
