// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultUserAgent mimics a desktop browser; some government portals refuse
// requests from unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// SetDefaults registers the default value of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seed_url", "https://mohfw.gov.in")
	v.SetDefault("crawler.domain", "mohfw.gov.in")
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.polite_delay", "1s")
	v.SetDefault("crawler.request_timeout", "10s")
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.retry_backoff", "2s")
	v.SetDefault("crawler.max_html_bytes", 10*1024*1024)

	v.SetDefault("archive.dir", "data_dump/General_Medicine/MoHFW")
	v.SetDefault("archive.min_pdf_bytes", 50*1024)
	v.SetDefault("archive.chunk_size", 8192)
	v.SetDefault("archive.source_authority", "MoHFW")
	v.SetDefault("archive.tier", "Tier1")

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")

	v.SetDefault("catalog.provider", "noop")
	v.SetDefault("catalog.postgres.dsn", "")
	v.SetDefault("catalog.postgres.table", "documents")
	v.SetDefault("catalog.postgres.runs_table", "crawl_runs")

	v.SetDefault("notify.provider", "noop")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "crawler.log")
	v.SetDefault("logging.development", false)

	v.SetDefault("server.addr", "")
	v.SetDefault("progress.enabled", true)
}

// InitConfig prepares v with defaults, search paths and environment binding,
// then reads the config file if one exists. cfgFile overrides the search.
// It returns the path of the file used, or "" when running on defaults.
func InitConfig(v *viper.Viper, cfgFile string) (string, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mohfw-crawler/")
		v.AddConfigPath("$HOME/.mohfw-crawler")
	}

	v.SetEnvPrefix("MOHFW") // e.g., MOHFW_CRAWLER_CONCURRENCY=4
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
