// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import "strings"

// classifierRule is one {substring, kind} entry. Order matters: the first
// match wins, so more specific patterns (AUTH) are listed ahead of the
// generic ones they could otherwise be mistaken for.
type classifierRule struct {
	substring string
	kind      ErrorKind
}

// classifierTable is the fixed, ordered pattern set from the glossary. This
// is the only place in the package where free-form stderr text becomes a
// typed ErrorKind.
var classifierTable = []classifierRule{
	{"unauthorized", Auth},
	{"403 forbidden", Auth},
	{"unable to open key", Decryption},
	{"invalid key", Decryption},
	{"decryption", Decryption},
	{"non-existing pps", DecoderCorruption},
	{"decode_slice_header error", DecoderCorruption},
	{"no frame!", DecoderCorruption},
	{"concealing errors", DecoderCorruption},
	{"slice header damaged", DecoderCorruption},
	{"timed out", NetworkTimeout},
	{"connection timed out", NetworkTimeout},
	{"would block", NetworkTimeout},
	{"server returned 4", HTTP4xx},
	{"server returned 5", HTTP5xx},
	{"connection reset", PeerReset},
	{"broken pipe", PeerReset},
	{"end of file", EOF},
	{"eof", EOF},
}

// Classify matches line against the fixed pattern table, case-insensitively,
// and returns the first matching kind, or Unknown if nothing matches.
func Classify(line string) ErrorKind {
	lower := strings.ToLower(line)
	for _, rule := range classifierTable {
		if strings.Contains(lower, rule.substring) {
			return rule.kind
		}
	}
	return Unknown
}
