// Package hashing normalizes and hashes personal identifiers before they
// leave the system, and holds the small validators used to decide whether a
// lead can be matched on the ad platform at all.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	// MinLookalikeRatio and MaxLookalikeRatio bound the similarity ratio
	// accepted by the ad platform (1% to 10% of the target country).
	MinLookalikeRatio = 0.01
	MaxLookalikeRatio = 0.10

	minPhoneDigits = 10
	maxPhoneDigits = 15
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigit     = regexp.MustCompile(`\D`)
)

// UserData is the raw identifier set of a single person.
type UserData struct {
	Email      string
	Phone      string
	ExternalID string
	FirstName  string
	LastName   string
	City       string
	State      string
	Country    string
	Zip        string
}

// HashedUserData carries the hashed form of UserData. Empty fields were
// absent in the input. Country is upper-cased but never hashed.
type HashedUserData struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	FirstName  string `json:"fn,omitempty"`
	LastName   string `json:"ln,omitempty"`
	City       string `json:"ct,omitempty"`
	State      string `json:"st,omitempty"`
	Country    string `json:"country,omitempty"`
	Zip        string `json:"zip,omitempty"`
}

// HashString trims and lower-cases v and returns its SHA-256 hex digest.
func HashString(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}

// NormalizePhone strips every non-digit character.
func NormalizePhone(v string) string {
	return nonDigit.ReplaceAllString(v, "")
}

// HashUserData hashes every present identifier of data.
func HashUserData(data UserData) HashedUserData {
	out := HashedUserData{
		Email:      hashIfPresent(data.Email),
		ExternalID: hashIfPresent(data.ExternalID),
		FirstName:  hashIfPresent(data.FirstName),
		LastName:   hashIfPresent(data.LastName),
		City:       hashIfPresent(data.City),
		State:      hashIfPresent(data.State),
		Zip:        hashIfPresent(data.Zip),
	}
	if data.Phone != "" {
		out.Phone = HashString(NormalizePhone(data.Phone))
	}
	if data.Country != "" {
		out.Country = strings.ToUpper(data.Country)
	}
	return out
}

func hashIfPresent(v string) string {
	if v == "" {
		return ""
	}
	return HashString(v)
}

// ValidateEmail checks for a local@domain.tld shape.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePhone accepts numbers with 10 to 15 digits once normalized.
func ValidatePhone(phone string) bool {
	n := len(NormalizePhone(phone))
	return n >= minPhoneDigits && n <= maxPhoneDigits
}

// ValidateLookalikeRatio reports whether v is a finite ratio in [0.01, 0.10].
func ValidateLookalikeRatio(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= MinLookalikeRatio && v <= MaxLookalikeRatio
}

// Chunk splits items into consecutive slices of at most size elements,
// preserving order. A non-positive size yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// GenerateAudienceName builds the default display name for a new audience.
func GenerateAudienceName(kind, label string, now time.Time) string {
	base := strings.TrimSpace(label)
	if base == "" {
		base = "Audience"
	}
	suffix := now.UTC().Format("2006-01-02")
	switch kind {
	case "lookalike":
		return fmt.Sprintf("LAL - %s - %s", base, suffix)
	case "custom":
		return fmt.Sprintf("Custom - %s - %s", base, suffix)
	default:
		return fmt.Sprintf("Saved - %s - %s", base, suffix)
	}
}
