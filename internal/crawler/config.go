package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob that influences a crawl run.
// All values originate from Viper so the crawler can be configured via files,
// env vars, or CLI flags.
type Config struct {
	SeedURL         string
	Domain          string
	UserAgent       string
	Concurrency     int
	PoliteDelay     time.Duration
	RequestTimeout  time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxHTMLBytes    int64
	ArchiveDir      string
	MinPDFBytes     int64
	ChunkSize       int
	SourceAuthority string
	Tier            string
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		SeedURL:         strings.TrimSpace(v.GetString("crawler.seed_url")),
		Domain:          strings.ToLower(strings.TrimSpace(v.GetString("crawler.domain"))),
		UserAgent:       v.GetString("crawler.user_agent"),
		Concurrency:     v.GetInt("crawler.concurrency"),
		PoliteDelay:     v.GetDuration("crawler.polite_delay"),
		RequestTimeout:  v.GetDuration("crawler.request_timeout"),
		MaxAttempts:     v.GetInt("crawler.max_attempts"),
		RetryBackoff:    v.GetDuration("crawler.retry_backoff"),
		MaxHTMLBytes:    v.GetInt64("crawler.max_html_bytes"),
		ArchiveDir:      v.GetString("archive.dir"),
		MinPDFBytes:     v.GetInt64("archive.min_pdf_bytes"),
		ChunkSize:       v.GetInt("archive.chunk_size"),
		SourceAuthority: v.GetString("archive.source_authority"),
		Tier:            v.GetString("archive.tier"),
	}
	if cfg.Domain == "" && cfg.SeedURL != "" {
		if u, err := url.Parse(cfg.SeedURL); err == nil {
			cfg.Domain = strings.ToLower(u.Hostname())
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.SeedURL == "" {
		return fmt.Errorf("crawler.seed_url must be set")
	}
	seed, err := url.Parse(c.SeedURL)
	if err != nil || seed.Host == "" {
		return fmt.Errorf("crawler.seed_url %q is not an absolute URL", c.SeedURL)
	}
	if c.Domain == "" {
		return fmt.Errorf("crawler.domain must be set")
	}
	if !InScope(seed, c.Domain) {
		return fmt.Errorf("crawler.seed_url host %q is outside crawler.domain %q", seed.Hostname(), c.Domain)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.PoliteDelay < 0 {
		return fmt.Errorf("crawler.polite_delay must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("crawler.retry_backoff must be >= 0")
	}
	if c.MaxHTMLBytes <= 0 {
		return fmt.Errorf("crawler.max_html_bytes must be > 0")
	}
	if c.ArchiveDir == "" {
		return fmt.Errorf("archive.dir must be set")
	}
	if c.MinPDFBytes < 0 {
		return fmt.Errorf("archive.min_pdf_bytes must be >= 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("archive.chunk_size must be > 0")
	}
	if c.SourceAuthority == "" || c.Tier == "" {
		return fmt.Errorf("archive.source_authority and archive.tier must be set")
	}
	return nil
}
