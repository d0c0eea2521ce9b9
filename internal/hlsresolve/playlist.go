// Package hlsresolve implements the HLS Segment Resolver: given a tuned
// session's media playlist and a requested segment filename, it produces
// the absolute upstream URL for that segment, retrying transient fetch
// failures and caching the filename-to-URL mapping per the playlist's own
// target duration.
package hlsresolve

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MediaSegment is one #EXTINF-tagged entry in an HLS media playlist.
type MediaSegment struct {
	URI      string // as written in the playlist, may be relative
	Basename string
}

// MediaPlaylist is the parsed form of an HLS media (not master) manifest.
type MediaPlaylist struct {
	TargetDuration int // seconds, from #EXT-X-TARGETDURATION
	Segments       []MediaSegment
}

// ParseMediaPlaylist scans an HLS media playlist, recording each segment URI
// that follows an #EXTINF tag and the #EXT-X-TARGETDURATION value.
func ParseMediaPlaylist(r io.Reader) (*MediaPlaylist, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	playlist := &MediaPlaylist{}
	expectSegment := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			playlist.TargetDuration = atoiSafe(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))

		case strings.HasPrefix(line, "#EXTINF:"):
			expectSegment = true

		case !strings.HasPrefix(line, "#"):
			if expectSegment {
				playlist.Segments = append(playlist.Segments, MediaSegment{
					URI:      line,
					Basename: basename(line),
				})
				expectSegment = false
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(playlist.Segments) == 0 {
		return nil, fmt.Errorf("not an HLS media playlist: no segments found")
	}
	return playlist, nil
}

// FindSegment locates the entry whose URI equals filename exactly, or whose
// basename matches on suffix-match fallback. Returns false if neither a
// direct nor basename match is found.
func FindSegment(playlist *MediaPlaylist, filename string) (MediaSegment, bool) {
	for _, s := range playlist.Segments {
		if s.URI == filename {
			return s, true
		}
	}
	for _, s := range playlist.Segments {
		if s.Basename == filename {
			return s, true
		}
	}
	return MediaSegment{}, false
}

func basename(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if idx := strings.LastIndexAny(uri, "/"); idx != -1 {
		return uri[idx+1:]
	}
	return uri
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
