package mta

import (
	"errors"
	"strings"
)

// Validation errors returned by ValidateAddress and ValidateHostname.
// Envelope and task construction does not call these validators.
var (
	// ErrInvalidAddress indicates an invalid email address.
	ErrInvalidAddress = errors.New("mta: invalid email address")

	// ErrInvalidHostname indicates an invalid EHLO/HELO hostname.
	ErrInvalidHostname = errors.New("mta: invalid hostname")
)

// ValidateAddress performs basic validation of an email address
// supplied by the queue. This is not a complete RFC 5321 validation;
// it catches the errors that would otherwise produce a malformed
// MAIL/RCPT command line.
func ValidateAddress(addr string) error {
	if addr == "" {
		// The null reverse-path ("<>") is valid for bounce envelopes.
		return nil
	}

	atIdx := strings.LastIndex(addr, "@")
	if atIdx <= 0 || atIdx == len(addr)-1 {
		return ErrInvalidAddress
	}

	localPart := addr[:atIdx]
	domain := addr[atIdx+1:]
	if localPart == "" || domain == "" {
		return ErrInvalidAddress
	}

	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ErrInvalidAddress
	}
	if strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") {
		return ErrInvalidAddress
	}

	for _, c := range domain {
		if !isValidDomainChar(c) {
			return ErrInvalidAddress
		}
	}

	return nil
}

func isValidDomainChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '.'
}

// ValidateHostname validates the hostname this session will present
// in EHLO/HELO.
func ValidateHostname(hostname string) error {
	if hostname == "" || len(hostname) > 255 {
		return ErrInvalidHostname
	}

	if strings.HasPrefix(hostname, "[") {
		if !strings.HasSuffix(hostname, "]") {
			return ErrInvalidHostname
		}
		return nil
	}

	labels := strings.Split(hostname, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return ErrInvalidHostname
		}
		if !isAlphanumeric(rune(label[0])) || !isAlphanumeric(rune(label[len(label)-1])) {
			return ErrInvalidHostname
		}
		for _, c := range label {
			if !isAlphanumeric(c) && c != '-' {
				return ErrInvalidHostname
			}
		}
	}

	return nil
}

func isAlphanumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
