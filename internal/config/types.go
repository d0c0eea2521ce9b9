// Package config loads and validates the gateway's configuration: a YAML
// file overlaid by environment variables, projected into the
// RuntimeSnapshot components are actually constructed from. Shape and
// file-then-env precedence follow the teacher's internal/config package.
package config

import "time"

// FileConfig is the YAML-serializable configuration document. Every
// recognized option from spec.md §6 has a field here.
type FileConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"logLevel"`

	MaxConcurrentStreams  int64 `yaml:"max_concurrent_streams"`
	MaxConcurrentPreviews int64 `yaml:"max_concurrent_previews"`

	Transcode       TranscodeTemplates `yaml:"transcode_template"`
	HLSProtocolArgs []string           `yaml:"hls_protocol_args"`

	ClientClassRules []ClientClassRule `yaml:"client_class_rules"`

	BeaconParams []string `yaml:"beacon_params"`

	Resilience ResilienceConfig `yaml:"resilience"`

	RingBufferBytes   int64 `yaml:"ring_buffer_bytes"`
	StallDeadlineMS   int64 `yaml:"stall_deadline_ms"`
	StartupDeadlineMS int64 `yaml:"startup_deadline_ms"`
	IdleGraceMS       int64 `yaml:"idle_grace_ms"`

	Catalog CatalogConfig `yaml:"catalog"`
	Cache   CacheConfig   `yaml:"cache"`

	RateLimitRPS int `yaml:"rate_limit_rps"`
}

// TranscodeTemplates holds the subprocess argument templates. "[URL]" is
// the single substitution placeholder, per spec.md §4.1.
type TranscodeTemplates struct {
	MpegTSCopy     []string `yaml:"mpegts_copy"`
	MpegTSReencode []string `yaml:"mpegts_reencode"`
	PreviewMP4     []string `yaml:"preview_mp4"`
	BinaryPath     string   `yaml:"binary_path"`
}

// ClientClassRule is one ordered {substring, class, template, resilience}
// tuple used by the HTTP Surface's classifier (§4.9).
type ClientClassRule struct {
	Substring  string `yaml:"substring"`
	Class      string `yaml:"class"`
	Template   string `yaml:"template"`
	Resilience bool   `yaml:"resilience"`
}

// ResilienceConfig tunes the four-layer ladder (§4.7).
type ResilienceConfig struct {
	N1                 int     `yaml:"n1"`
	N2                 int     `yaml:"n2"`
	N3                 int     `yaml:"n3"`
	BaseBackoffMS      int64   `yaml:"base_backoff_ms"`
	MaxBackoffMS       int64   `yaml:"max_backoff_ms"`
	BackoffMultiplier  float64 `yaml:"backoff_multiplier"`
	PreemptiveRenewalS int64   `yaml:"preemptive_renewal_s"`
	HealthyDwellS      int64   `yaml:"healthy_dwell_s"`
}

// CatalogConfig selects the catalog store adapter and, independently, the
// audit sink's storage path. Audit logging is a separate concern from
// catalog storage: a memory catalog can still run with durable audit rows,
// so AuditPath is empty (audit disabled, NopAuditSink used) unless set.
type CatalogConfig struct {
	Driver string `yaml:"driver"` // "memory" | "postgres"
	DSN    string `yaml:"dsn"`

	AuditPath string `yaml:"audit_path"` // BadgerDB directory; empty disables audit
}

// CacheConfig selects the resolver/segment cache backend.
type CacheConfig struct {
	Driver string `yaml:"driver"` // "memory" | "redis"
	Addr   string `yaml:"addr"`
}

// Defaults returns the spec.md-mandated defaults (§3, §4.7, §5).
func Defaults() FileConfig {
	return FileConfig{
		Listen:                ":8080",
		LogLevel:              "info",
		MaxConcurrentStreams:  8,
		MaxConcurrentPreviews: 3,
		Transcode: TranscodeTemplates{
			BinaryPath: "ffmpeg",
			MpegTSCopy: []string{
				"-hide_banner", "-loglevel", "error",
				"-fflags", "+genpts+igndts",
				"-i", "[URL]",
				"-map", "0", "-c", "copy",
				"-mpegts_flags", "resend_headers+initial_discontinuity",
				"-f", "mpegts", "pipe:1",
			},
			MpegTSReencode: []string{
				"-hide_banner", "-loglevel", "error",
				"-fflags", "+genpts+igndts",
				"-i", "[URL]",
				"-c:v", "libx264", "-c:a", "aac",
				"-f", "mpegts", "pipe:1",
			},
			PreviewMP4: []string{
				"-hide_banner", "-loglevel", "error",
				"-i", "[URL]",
				"-c:v", "libx264", "-c:a", "aac",
				"-movflags", "frag_keyframe+empty_moov+default_base_moof",
				"-f", "mp4", "pipe:1",
			},
		},
		ClientClassRules: []ClientClassRule{
			{Substring: "HDHomeRun", Class: "TUNER_SERVER", Template: "mpegts_copy", Resilience: true},
			{Substring: "VLC", Class: "EXTERNAL_PLAYER", Template: "mpegts_copy", Resilience: true},
			{Substring: "Mozilla", Class: "WEB_BROWSER", Template: "preview_mp4", Resilience: false},
		},
		BeaconParams: []string{"bcn", "redirect_url", "beacon"},
		Resilience: ResilienceConfig{
			N1: 3, N2: 2, N3: 1,
			BaseBackoffMS:      1000,
			MaxBackoffMS:       30000,
			BackoffMultiplier:  1.3,
			PreemptiveRenewalS: 25 * 60,
			HealthyDwellS:      60,
		},
		RingBufferBytes:   16 << 20,
		StallDeadlineMS:   30000,
		StartupDeadlineMS: 10000,
		IdleGraceMS:       15000,
		Catalog:           CatalogConfig{Driver: "memory"},
		Cache:             CacheConfig{Driver: "memory"},
		RateLimitRPS:      50,
	}
}

// RuntimeSnapshot is the resolved, typed-duration view components consume,
// mirroring the teacher's config.RuntimeSnapshot projection pattern.
type RuntimeSnapshot struct {
	Listen   string
	LogLevel string

	MaxConcurrentStreams  int64
	MaxConcurrentPreviews int64

	Transcode       TranscodeTemplates
	HLSProtocolArgs []string

	ClientClassRules []ClientClassRule
	BeaconParams     []string

	N1, N2, N3        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	PreemptiveRenewal time.Duration
	HealthyDwell      time.Duration

	RingBufferBytes int64
	StallDeadline   time.Duration
	StartupDeadline time.Duration
	IdleGrace       time.Duration

	Catalog CatalogConfig
	Cache   CacheConfig

	RateLimitRPS int
}

// Snapshot projects a FileConfig into a RuntimeSnapshot.
func (f FileConfig) Snapshot() RuntimeSnapshot {
	return RuntimeSnapshot{
		Listen:                f.Listen,
		LogLevel:              f.LogLevel,
		MaxConcurrentStreams:  f.MaxConcurrentStreams,
		MaxConcurrentPreviews: f.MaxConcurrentPreviews,
		Transcode:             f.Transcode,
		HLSProtocolArgs:       f.HLSProtocolArgs,
		ClientClassRules:      f.ClientClassRules,
		BeaconParams:          f.BeaconParams,
		N1:                    f.Resilience.N1,
		N2:                    f.Resilience.N2,
		N3:                    f.Resilience.N3,
		BaseBackoff:           time.Duration(f.Resilience.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:            time.Duration(f.Resilience.MaxBackoffMS) * time.Millisecond,
		BackoffMultiplier:     f.Resilience.BackoffMultiplier,
		PreemptiveRenewal:     time.Duration(f.Resilience.PreemptiveRenewalS) * time.Second,
		HealthyDwell:          time.Duration(f.Resilience.HealthyDwellS) * time.Second,
		RingBufferBytes:       f.RingBufferBytes,
		StallDeadline:         time.Duration(f.StallDeadlineMS) * time.Millisecond,
		StartupDeadline:       time.Duration(f.StartupDeadlineMS) * time.Millisecond,
		IdleGrace:             time.Duration(f.IdleGraceMS) * time.Millisecond,
		Catalog:               f.Catalog,
		Cache:                 f.Cache,
		RateLimitRPS:          f.RateLimitRPS,
	}
}
