// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Date layouts.
const (
	// RegistryDateLayout is the format of event dates in the upstream registry.
	RegistryDateLayout = "02.01.2006"
	// registryParseLayout also accepts a day or month without the leading zero.
	registryParseLayout = "2.1.2006"
	// LedgerDateLayout is the format event dates are stored with in the ledger.
	LedgerDateLayout = "2006-01-02"
)

// MaxIdentifierLen bounds the length of a company or tax code.
const MaxIdentifierLen = 12

// RegistryRecord is one bankruptcy filing as mirrored from the upstream registry.
// EventDate keeps the raw DD.MM.YYYY text; it may be malformed.
type RegistryRecord struct {
	Identifier  string
	DisplayName string
	EventDate   string
}

// Subscriber is a chat that can receive notifications.
type Subscriber struct {
	ChatID    int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WatchEntry records that a chat watches an identifier.
type WatchEntry struct {
	ChatID     int64
	Identifier string
	CreatedAt  time.Time
}

// LedgerKey identifies a single filing shown to a subscriber.
type LedgerKey struct {
	Identifier string
	EventDate  time.Time
}

// LedgerEntry records that a filing has already been delivered to a chat.
type LedgerEntry struct {
	ChatID int64
	LedgerKey
	SeenAt time.Time
}

// MatchResult is a registry record selected for delivery.
type MatchResult struct {
	Identifier  string
	DisplayName string
	EventDate   time.Time
}

// Key returns the ledger key of the match.
func (m MatchResult) Key() LedgerKey {
	return LedgerKey{Identifier: m.Identifier, EventDate: m.EventDate}
}

// ParseEventDate parses a registry date (DD.MM.YYYY, leading zeros optional)
// into a UTC midnight time.
func ParseEventDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	t, err := time.Parse(registryParseLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatEventDate renders a date the way the registry writes it.
func FormatEventDate(t time.Time) string {
	return t.Format(RegistryDateLayout)
}

// ValidIdentifier reports whether s is a non-empty token of at most
// MaxIdentifierLen ASCII digits.
func ValidIdentifier(s string) bool {
	if s == "" || len(s) > MaxIdentifierLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
