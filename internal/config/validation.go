package config

import "fmt"

// Validate rejects a FileConfig that would leave a component unable to
// start, following the teacher's "accumulate every violation, fail once"
// shape but scoped to this gateway's options (spec.md §6).
func Validate(cfg FileConfig) error {
	var errs []string

	if cfg.Listen == "" {
		errs = append(errs, "listen must not be empty")
	}
	if cfg.MaxConcurrentStreams < 1 {
		errs = append(errs, "max_concurrent_streams must be >= 1")
	}
	if cfg.MaxConcurrentPreviews < 1 {
		errs = append(errs, "max_concurrent_previews must be >= 1")
	}
	if cfg.Transcode.BinaryPath == "" {
		errs = append(errs, "transcode_template.binary_path must not be empty")
	}
	if len(cfg.Transcode.MpegTSCopy) == 0 {
		errs = append(errs, "transcode_template.mpegts_copy must not be empty")
	}
	if cfg.Resilience.N1 < 0 || cfg.Resilience.N2 < 0 || cfg.Resilience.N3 < 0 {
		errs = append(errs, "resilience layer thresholds must be >= 0")
	}
	if cfg.Resilience.BackoffMultiplier < 1 {
		errs = append(errs, "resilience.backoff_multiplier must be >= 1")
	}
	if cfg.Resilience.MaxBackoffMS < cfg.Resilience.BaseBackoffMS {
		errs = append(errs, "resilience.max_backoff_ms must be >= base_backoff_ms")
	}
	if cfg.RingBufferBytes < 0 {
		errs = append(errs, "ring_buffer_bytes must be >= 0")
	}
	switch cfg.Catalog.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, "catalog.driver must be memory or postgres")
	}
	if cfg.Catalog.Driver == "postgres" && cfg.Catalog.DSN == "" {
		errs = append(errs, "catalog.dsn is required when catalog.driver is postgres")
	}
	switch cfg.Cache.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, "cache.driver must be memory or redis")
	}
	if cfg.Cache.Driver == "redis" && cfg.Cache.Addr == "" {
		errs = append(errs, "cache.addr is required when cache.driver is redis")
	}
	if cfg.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must be >= 0")
	}
	for _, rule := range cfg.ClientClassRules {
		if rule.Substring == "" {
			errs = append(errs, "client_class_rules entries must have a non-empty substring")
			break
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %v", errs)
}
