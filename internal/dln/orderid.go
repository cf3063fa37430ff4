package dln

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
)

const programDataPrefix = "Program data: "

// Ordered orderId log patterns. The first match wins; hex captures are
// lowercased.
var orderIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)OrderId:\s*(?:0x)?([a-f0-9]{64})`),
	regexp.MustCompile(`(?i)Order\s+created:\s*(?:0x)?([a-f0-9]{64})`),
	regexp.MustCompile(`(?i)Order\s+fulfilled:\s*(?:0x)?([a-f0-9]{64})`),
	regexp.MustCompile(`(?i)orderId["\s:=]+(?:0x)?([a-f0-9]{64})`),
	regexp.MustCompile(`(?i)Order\s+Id:\s*([0-9]{10,})`),
}

// ExtractOrderID scans log messages in order and returns the first
// orderId it can derive, or "" when the transaction carries none.
func ExtractOrderID(logs []string) string {
	for _, line := range logs {
		for _, pattern := range orderIDPatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				return strings.ToLower(m[1])
			}
		}
		if id := orderIDFromProgramData(line); id != "" {
			return id
		}
	}
	return ""
}

// orderIDFromProgramData decodes a "Program data: " event payload and,
// when it is large enough, takes bytes [8,40) as the candidate orderId.
// Trivial candidates (all-zero, all-0xff) are rejected.
func orderIDFromProgramData(line string) string {
	if !strings.HasPrefix(line, programDataPrefix) {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[len(programDataPrefix):]))
	if err != nil || len(raw) < 40 {
		return ""
	}

	candidate := raw[8:40]
	allZero, allFF := true, true
	for _, b := range candidate {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xff {
			allFF = false
		}
	}
	if allZero || allFF {
		return ""
	}
	return hex.EncodeToString(candidate)
}
