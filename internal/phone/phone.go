// Package phone normalizes raw phone strings into canonical dialable
// identifiers for the operating region.
//
// Normalize is pure and total: it never panics and returns a typed
// rejection reason instead of an error.
package phone

import "strings"

// Reason classifies why a raw phone string was rejected.
type Reason string

const (
	ReasonNoPhone        Reason = "NO_PHONE"
	ReasonInvalidFormat  Reason = "INVALID_FORMAT"
	ReasonNotMobileLocal Reason = "NOT_MOBILE_LOCAL"
)

// Result is produced once per raw input and never mutated.
type Result struct {
	OK        bool
	Canonical string // E.164-shaped: "+" + country code + local
	Reason    Reason // set only when !OK
}

// Profile describes the operating region's numbering plan.
type Profile struct {
	CountryCode string // country calling code, e.g. "57"
	LocalLength int    // expected local-number length, e.g. 10
	MobileLead  string // required first digit(s) of a mobile local number, e.g. "3"
}

// DefaultProfile is the reference deployment's region (Colombia).
func DefaultProfile() Profile {
	return Profile{CountryCode: "57", LocalLength: 10, MobileLead: "3"}
}

// Normalize converts raw into the canonical dialable form or a rejection.
//
// Accepted separators are stripped first (spaces, hyphens, parentheses,
// dots, and one leading "+"). A missing country prefix is filled in from
// the profile; anything that does not end up as a mobile-length,
// mobile-lead local number is rejected with ReasonNotMobileLocal.
func (p Profile) Normalize(raw string) Result {
	cleaned := clean(raw)
	if cleaned == "" {
		return Result{OK: false, Reason: ReasonNoPhone}
	}
	if !allDigits(cleaned) {
		return Result{OK: false, Reason: ReasonInvalidFormat}
	}

	digits := cleaned
	if !strings.HasPrefix(digits, p.CountryCode) {
		digits = p.CountryCode + digits
	}

	if len(digits) != len(p.CountryCode)+p.LocalLength {
		return Result{OK: false, Reason: ReasonNotMobileLocal}
	}
	local := digits[len(p.CountryCode):]
	if !strings.HasPrefix(local, p.MobileLead) {
		return Result{OK: false, Reason: ReasonNotMobileLocal}
	}

	return Result{OK: true, Canonical: "+" + p.CountryCode + local}
}

func clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '(', ')', '.':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
