// Package identity classifies chat network addresses and resolves who is behind them.
package identity

import (
	"errors"
	"strings"
)

// Kind is the address class of a counterparty.
type Kind string

const (
	KindDirectPhone  Kind = "direct_phone"
	KindDirectOpaque Kind = "direct_opaque"
	KindGroup        Kind = "group"
	KindBroadcast    Kind = "broadcast"
)

// Address markers used by the network.
const (
	DirectSuffix     = "@s.whatsapp.net"
	LegacySuffix     = "@c.us"
	OpaqueSuffix     = "@lid"
	GroupSuffix      = "@g.us"
	BroadcastSuffix  = "@broadcast"
	NewsletterSuffix = "@newsletter"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// ErrInvalidDestination is returned when a destination has neither a marker nor digits.
var ErrInvalidDestination = errors.New("identity: destination has no address marker or phone digits")

// IsDirect reports whether k is a one-to-one conversation.
func (k Kind) IsDirect() bool {
	return k == KindDirectPhone || k == KindDirectOpaque
}

// Classify assigns an address class. Group is checked first, then broadcast, and
// only then the direct forms. A direct address whose user part is not a phone
// number is opaque.
func Classify(address string) Kind {
	addr := strings.ToLower(CleanAddress(address))
	switch {
	case strings.HasSuffix(addr, GroupSuffix):
		return KindGroup
	case strings.HasSuffix(addr, BroadcastSuffix), strings.HasSuffix(addr, NewsletterSuffix):
		return KindBroadcast
	case strings.HasSuffix(addr, OpaqueSuffix):
		return KindDirectOpaque
	}
	user, server := splitAddress(addr)
	if server != "" && server != strings.TrimPrefix(DirectSuffix, "@") && server != strings.TrimPrefix(LegacySuffix, "@") {
		return KindDirectOpaque
	}
	if isPhoneDigits(user) {
		return KindDirectPhone
	}
	return KindDirectOpaque
}

// CleanAddress trims whitespace and drops the device suffix ("user:12@server").
func CleanAddress(address string) string {
	address = strings.TrimSpace(address)
	user, server := splitAddress(address)
	if idx := strings.IndexByte(user, ':'); idx >= 0 {
		user = user[:idx]
	}
	if server == "" {
		return user
	}
	return user + "@" + server
}

// UserPart returns the portion before the marker, without device suffix.
func UserPart(address string) string {
	user, _ := splitAddress(CleanAddress(address))
	return user
}

// PhoneFromAddress returns the phone digits of a DirectPhone address. Opaque,
// group and broadcast addresses never yield a phone.
func PhoneFromAddress(address string) (string, bool) {
	if Classify(address) != KindDirectPhone {
		return "", false
	}
	return UserPart(address), true
}

// DirectAddress builds the direct form for a phone number.
func DirectAddress(phone string) string {
	digits := DigitsOnly(phone)
	if digits == "" {
		return ""
	}
	return digits + DirectSuffix
}

// NormalizeDestination passes addresses that already carry a marker through
// unchanged and converts raw phone strings to the direct form.
func NormalizeDestination(destination string) (string, error) {
	destination = strings.TrimSpace(destination)
	if strings.Contains(destination, "@") {
		return destination, nil
	}
	addr := DirectAddress(destination)
	if addr == "" {
		return "", ErrInvalidDestination
	}
	return addr, nil
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isPhoneDigits(value string) bool {
	if len(value) < minPhoneDigits || len(value) > maxPhoneDigits {
		return false
	}
	return DigitsOnly(value) == value
}

func splitAddress(address string) (string, string) {
	if idx := strings.LastIndexByte(address, '@'); idx >= 0 {
		return address[:idx], address[idx+1:]
	}
	return address, ""
}
