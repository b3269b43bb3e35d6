package domain

import (
	"net/mail"
	"strings"
)

const maxEmailLength = 254

// NormalizeEmail validates a bare address and returns its canonical lower-case form.
func NormalizeEmail(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" || len(candidate) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(candidate)
	if err != nil || addr.Name != "" || addr.Address != candidate {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(candidate, "@")
	local, host := candidate[:at], candidate[at+1:]
	if local == "" || !validHost(host) {
		return "", ErrInvalidEmail
	}

	return strings.ToLower(candidate), nil
}

func validHost(host string) bool {
	if host == "" || strings.HasPrefix(host, "[") {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}
