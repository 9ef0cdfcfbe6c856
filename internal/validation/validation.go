package validation

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrInvalidSlug is returned when a slug doesn't match the required format
	ErrInvalidSlug = errors.New("slug must be lowercase letters and digits separated by single hyphens")

	// ErrSlugRequired is returned for an empty slug
	ErrSlugRequired = errors.New("slug is required")

	// ErrSlugTooLong is returned when a slug is too long
	ErrSlugTooLong = errors.New("slug must be at most 64 characters")

	// ErrInvalidEmail is returned for addresses that do not parse
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrPasswordTooShort is returned for passwords under eight characters
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")

	// ErrInvalidOrgType is returned for organization types outside the enum
	ErrInvalidOrgType = errors.New("invalid organization type")

	slugRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	whitespaceRun = regexp.MustCompile(`\s+`)
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRun     = regexp.MustCompile(`-{2,}`)
)

const maxSlugLen = 64

// ValidateSlug checks slug against ^[a-z0-9]+(-[a-z0-9]+)*$ and the length cap.
func ValidateSlug(slug string) error {
	if slug == "" {
		return ErrSlugRequired
	}
	if len(slug) > maxSlugLen {
		return ErrSlugTooLong
	}
	if !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}

// Slugify derives a URL-safe slug from a display name: lowercase, whitespace
// runs become one hyphen, other punctuation is dropped, and repeated or edge
// hyphens are collapsed. Underscores are treated as separators.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "_", " ")
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

// NormalizeEmail trims and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 320 || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	return nil
}

// OrgTypes lists the accepted organization types.
var OrgTypes = []string{"direct_client", "service_provider", "healthcare_facility", "partner", "vendor"}

// ValidateOrgType accepts the empty string (type unset) or a known type.
func ValidateOrgType(t string) error {
	if t == "" {
		return nil
	}
	for _, known := range OrgTypes {
		if t == known {
			return nil
		}
	}
	return ErrInvalidOrgType
}
