// Package pgident derives and validates Postgres identifiers for schemas and
// roles. Every identifier spliced into DDL must come through here; value data
// always travels as query parameters instead.
package pgident

import (
	"fmt"
	"strings"
)

// MaxLen is the Postgres identifier length limit in bytes.
const MaxLen = 63

// Valid reports whether ident is a safe unquoted identifier: lowercase
// letters, digits and underscores, not starting with a digit, at most MaxLen
// bytes.
func Valid(ident string) error {
	if ident == "" {
		return fmt.Errorf("identifier is empty")
	}
	if len(ident) > MaxLen {
		return fmt.Errorf("identifier %q exceeds %d bytes", ident, MaxLen)
	}
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("identifier %q starts with a digit", ident)
			}
		default:
			return fmt.Errorf("identifier %q contains disallowed character %q", ident, r)
		}
	}
	return nil
}

// Slug normalizes a display name into an identifier: lowercased, spaces and
// hyphens folded to underscores. Anything outside the allowed charset is
// rejected rather than stripped, so two distinct names cannot silently slug
// to the same identifier.
func Slug(name string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, slug)
	if err := Valid(slug); err != nil {
		return "", err
	}
	return slug, nil
}

// TeamSchema derives the schema identifier for a team display name. The same
// identifier names the team's database group role.
func TeamSchema(name string) (string, error) {
	slug, err := Slug(name)
	if err != nil {
		return "", fmt.Errorf("derive team schema: %w", err)
	}
	return withPrefix("team_", slug)
}

// UserRole derives the login role identifier for a catalog username.
func UserRole(username string) (string, error) {
	slug, err := Slug(username)
	if err != nil {
		return "", fmt.Errorf("derive user role: %w", err)
	}
	return withPrefix("user_", slug)
}

// QuoteLiteral escapes s for inclusion as a string literal in DDL statements
// that cannot carry bind parameters (role passwords).
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func withPrefix(prefix, slug string) (string, error) {
	ident := prefix + slug
	if len(ident) > MaxLen {
		return "", fmt.Errorf("identifier %q exceeds %d bytes", ident, MaxLen)
	}
	return ident, nil
}
