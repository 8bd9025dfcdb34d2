package engine

import "strings"

// hardPatterns and softPatterns are matched case-insensitively against the
// SMTP error text. An error matching neither defaults to soft.
var hardPatterns = []string{
	"user unknown",
	"no such user",
	"invalid recipient",
	"recipient address rejected",
	"user not found",
	"domain not found",
	"no mx record",
	"domain does not exist",
}

var softPatterns = []string{
	"mailbox full",
	"quota exceeded",
	"insufficient storage",
	"temporarily deferred",
	"try again later",
	"temporary failure",
	"rate limit",
	"too many emails",
	"sending quota",
}

// ClassifyTransportError maps a raw SMTP error string to TRANSPORT_HARD or
// TRANSPORT_SOFT. This is the single point bounce-category decisions run
// through; nothing else in the engine does its own substring matching.
func ClassifyTransportError(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, p := range hardPatterns {
		if strings.Contains(lower, p) {
			return KindTransportHard
		}
	}
	for _, p := range softPatterns {
		if strings.Contains(lower, p) {
			return KindTransportSoft
		}
	}
	return KindTransportSoft
}
