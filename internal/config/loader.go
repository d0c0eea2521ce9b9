package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader resolves a FileConfig with ENV > File > Defaults precedence,
// mirroring the teacher's Loader.Load but scoped to this gateway's
// recognized options (spec.md §6).
type Loader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a Loader reading configPath (may be "" to use
// defaults-plus-env only) and os.LookupEnv for overrides.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath, lookupEnv: os.LookupEnv}
}

// Load builds a FileConfig: defaults, overlaid by the YAML file (if any),
// overlaid by recognized GWD_* environment variables.
func (l *Loader) Load() (FileConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFile(&cfg, fileCfg)
	}

	l.applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFile reads and strictly decodes a YAML document, rejecting unknown
// fields the way the teacher's Loader.loadFile does, so a typo in an
// operator's config is a fail-fast error rather than a silently ignored key.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration path is operator-supplied via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

// mergeFile overlays non-zero fields from file onto cfg. Slices and nested
// structs are replaced wholesale when present in the file, matching the
// teacher's merge_file.go "file field set -> overwrite" rule rather than
// a deep per-field merge.
func mergeFile(cfg *FileConfig, file *FileConfig) {
	if file.Listen != "" {
		cfg.Listen = file.Listen
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.MaxConcurrentStreams != 0 {
		cfg.MaxConcurrentStreams = file.MaxConcurrentStreams
	}
	if file.MaxConcurrentPreviews != 0 {
		cfg.MaxConcurrentPreviews = file.MaxConcurrentPreviews
	}
	if file.Transcode.BinaryPath != "" {
		cfg.Transcode.BinaryPath = file.Transcode.BinaryPath
	}
	if len(file.Transcode.MpegTSCopy) > 0 {
		cfg.Transcode.MpegTSCopy = file.Transcode.MpegTSCopy
	}
	if len(file.Transcode.MpegTSReencode) > 0 {
		cfg.Transcode.MpegTSReencode = file.Transcode.MpegTSReencode
	}
	if len(file.Transcode.PreviewMP4) > 0 {
		cfg.Transcode.PreviewMP4 = file.Transcode.PreviewMP4
	}
	if len(file.HLSProtocolArgs) > 0 {
		cfg.HLSProtocolArgs = file.HLSProtocolArgs
	}
	if len(file.ClientClassRules) > 0 {
		cfg.ClientClassRules = file.ClientClassRules
	}
	if len(file.BeaconParams) > 0 {
		cfg.BeaconParams = file.BeaconParams
	}
	if file.Resilience != (ResilienceConfig{}) {
		cfg.Resilience = file.Resilience
	}
	if file.RingBufferBytes != 0 {
		cfg.RingBufferBytes = file.RingBufferBytes
	}
	if file.StallDeadlineMS != 0 {
		cfg.StallDeadlineMS = file.StallDeadlineMS
	}
	if file.StartupDeadlineMS != 0 {
		cfg.StartupDeadlineMS = file.StartupDeadlineMS
	}
	if file.IdleGraceMS != 0 {
		cfg.IdleGraceMS = file.IdleGraceMS
	}
	if file.Catalog != (CatalogConfig{}) {
		cfg.Catalog = file.Catalog
	}
	if file.Cache != (CacheConfig{}) {
		cfg.Cache = file.Cache
	}
	if file.RateLimitRPS != 0 {
		cfg.RateLimitRPS = file.RateLimitRPS
	}
}

// envPrefix namespaces every recognized environment override, following
// the teacher's XG2G_* convention adapted to this gateway's name.
const envPrefix = "GWD_"

// applyEnv overlays a small set of recognized overrides — the options an
// operator most often needs to flip per-deployment without editing the
// YAML file (listen address, log level, catalog/audit/cache backends,
// concurrency caps, rate limit). Resilience options are file-only.
func (l *Loader) applyEnv(cfg *FileConfig) {
	if v, ok := l.lookupEnv(envPrefix + "LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := l.lookupEnv(envPrefix + "LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := l.lookupEnv(envPrefix + "CATALOG_DRIVER"); ok {
		cfg.Catalog.Driver = v
	}
	if v, ok := l.lookupEnv(envPrefix + "CATALOG_DSN"); ok {
		cfg.Catalog.DSN = v
	}
	if v, ok := l.lookupEnv(envPrefix + "AUDIT_PATH"); ok {
		cfg.Catalog.AuditPath = v
	}
	if v, ok := l.lookupEnv(envPrefix + "CACHE_DRIVER"); ok {
		cfg.Cache.Driver = v
	}
	if v, ok := l.lookupEnv(envPrefix + "CACHE_ADDR"); ok {
		cfg.Cache.Addr = v
	}
	if v, ok := l.lookupEnv(envPrefix + "MAX_CONCURRENT_STREAMS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxConcurrentStreams = n
		}
	}
	if v, ok := l.lookupEnv(envPrefix + "MAX_CONCURRENT_PREVIEWS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxConcurrentPreviews = n
		}
	}
	if v, ok := l.lookupEnv(envPrefix + "RATE_LIMIT_RPS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitRPS = n
		}
	}
}
