// Package catalog defines the read-only lookups the streaming plane needs
// from the channel/stream/settings store (spec.md §1, §3, §4). The core
// never writes channels or streams; external catalog CRUD is out of scope
// here. Two reference adapters are provided: memcatalog (in-memory, for
// tests and small deployments) and pgcatalog (Postgres via pgx, for a real
// deployment).
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("catalog: not found")

// Protocol tags the wire protocol a Stream's URL speaks, per spec.md §3.
type Protocol string

const (
	ProtocolHLS  Protocol = "hls"
	ProtocolHTTP Protocol = "http"
	ProtocolRTSP Protocol = "rtsp"
	ProtocolRTMP Protocol = "rtmp"
	ProtocolUDP  Protocol = "udp"
	ProtocolMMS  Protocol = "mms"
	ProtocolSRT  Protocol = "srt"
	ProtocolTS   Protocol = "ts"
)

// Channel is a tuner-facing numbered lineup entry. Created and mutated by
// external catalog operations; the streaming plane only reads it.
type Channel struct {
	ID       string
	Number   int
	Name     string
	Enabled  bool
	LogoURL  string
	EPGKey   string
}

// BasicAuth is an optional credential pair attached to a Stream.
type BasicAuth struct {
	Username string
	Password string
}

// Stream is one upstream source bound to a Channel. The streaming plane
// treats it as immutable for the duration of a session (spec.md §3).
type Stream struct {
	ID             string
	ChannelID      string
	URL            string
	BackupURLs     []string
	Protocol       Protocol
	Auth           *BasicAuth
	RequestHeaders map[string]string
	ProtocolOpts   map[string]string
	Enabled        bool
}

// Catalog is the streaming plane's read-only view of channels and streams,
// per spec.md §4 ("Required catalog queries").
type Catalog interface {
	GetChannelByID(ctx context.Context, id string) (*Channel, error)
	GetChannelByNumber(ctx context.Context, number int) (*Channel, error)
	GetStreamForChannel(ctx context.Context, channelID string) (*Stream, error)
	GetStreamByID(ctx context.Context, id string) (*Stream, error)
	ListChannels(ctx context.Context) ([]*Channel, error)
}
