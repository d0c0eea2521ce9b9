package resolver

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MasterPlaylist is the parsed form of an HLS master manifest: the
// #EXT-X-STREAM-INF variant tuples and any #EXT-X-KEY declaration.
type MasterPlaylist struct {
	Variants  []Variant
	Encrypted bool
	KeyMethod string
}

// ParseMasterPlaylist scans an HLS master playlist, line by line, recording
// #EXT-X-STREAM-INF attribute tuples and detecting #EXT-X-KEY.
func ParseMasterPlaylist(r io.Reader) (*MasterPlaylist, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	playlist := &MasterPlaylist{}
	var pending *Variant

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			playlist.Encrypted = true
			playlist.KeyMethod = extractAttr(line, "METHOD")

		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			v := Variant{
				Bandwidth:  atoiSafe(extractAttr(line, "BANDWIDTH")),
				Resolution: extractAttr(line, "RESOLUTION"),
				Codecs:     extractAttr(line, "CODECS"),
			}
			pending = &v

		case !strings.HasPrefix(line, "#"):
			if pending != nil {
				pending.URI = line
				playlist.Variants = append(playlist.Variants, *pending)
				pending = nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(playlist.Variants) == 0 && !playlist.Encrypted {
		return nil, fmt.Errorf("not an HLS master playlist: no variants found")
	}
	return playlist, nil
}

// extractAttr reads the value of name="..." or name=value out of an
// #EXT-X-* attribute line.
func extractAttr(line, name string) string {
	key := name + "="
	idx := strings.Index(line, key)
	if idx == -1 {
		return ""
	}
	rest := line[idx+len(key):]
	if strings.HasPrefix(rest, `"`) {
		rest = rest[1:]
		if end := strings.Index(rest, `"`); end != -1 {
			return rest[:end]
		}
		return rest
	}
	if end := strings.IndexAny(rest, ","); end != -1 {
		return rest[:end]
	}
	return rest
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
