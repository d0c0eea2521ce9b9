// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stats holds progress metrics parsed from one subprocess stderr line, an
// observability supplement the core stderr classifier does not itself need.
type Stats struct {
	Speed       float64
	BitrateKBPS float64
	FPS         float64
	Frame       int
	Time        time.Duration
}

// ParseStats extracts progress fields from a standard ffmpeg/demuxer
// progress line ("frame=  123 fps= 25 ... time=00:00:12.34 bitrate=800.0kbits/s speed=1.0x").
// Returns nil if line doesn't look like a progress line. Field extraction is
// substring search rather than strict regex, matching real-world log noise.
func ParseStats(line string) *Stats {
	if !strings.Contains(line, "frame=") && !strings.Contains(line, "time=") && !strings.Contains(line, "bitrate=") {
		return nil
	}

	stats := &Stats{}
	foundAny := false

	extract := func(key string) string {
		idx := strings.Index(line, key)
		if idx == -1 {
			return ""
		}
		rest := strings.TrimLeft(line[idx+len(key):], " ")
		if rest == "" {
			return ""
		}
		if sp := strings.Index(rest, " "); sp != -1 {
			return rest[:sp]
		}
		return rest
	}

	if val := extract("speed="); val != "" {
		val = strings.TrimSuffix(val, "x")
		if val != "N/A" {
			if s, err := strconv.ParseFloat(val, 64); err == nil {
				stats.Speed = s
				foundAny = true
			}
		}
	}

	if val := extract("bitrate="); val != "" && val != "N/A" {
		val = strings.TrimSuffix(val, "kbits/s")
		val = strings.TrimSuffix(val, "kb/s")
		if b, err := strconv.ParseFloat(val, 64); err == nil {
			stats.BitrateKBPS = b
			foundAny = true
		}
	}

	if val := extract("fps="); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			stats.FPS = f
			foundAny = true
		}
	}

	if val := extract("frame="); val != "" {
		if f, err := strconv.Atoi(val); err == nil {
			stats.Frame = f
			foundAny = true
		}
	}

	if val := extract("time="); val != "" && val != "N/A" {
		if d, err := parseStatsTime(val); err == nil {
			stats.Time = d
			foundAny = true
		}
	}

	if !foundAny {
		return nil
	}
	return stats
}

// parseStatsTime parses "HH:MM:SS.mm" into a Duration.
func parseStatsTime(val string) (time.Duration, error) {
	parts := strings.Split(val, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time format: %q", val)
	}
	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	mins, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	total := hours*3600 + mins*60 + secs
	return time.Duration(total * float64(time.Second)), nil
}
