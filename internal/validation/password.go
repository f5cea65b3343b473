package validation

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPasswordBytes is the longest password bcrypt hashes in full.
const MaxPasswordBytes = 72

// PasswordRule is a single password-strength check.
// Text is the English message; {0}.. are replaced by Params.
type PasswordRule struct {
	Tag    string
	Text   string
	Params []string
	Check  func(password string, attrs []string) bool
}

// DefaultPasswordRules returns the rules applied to new passwords.
func DefaultPasswordRules() []PasswordRule {
	return []PasswordRule{
		MinimumLength(12),
		MaximumLength(MaxPasswordBytes),
		RequireDigit(),
		RequireUpper(),
		RequireLower(),
		RequireSymbol(),
		UserAttributeSimilarity(0.7),
	}
}

// MinimumLength requires at least n characters.
func MinimumLength(n int) PasswordRule {
	return PasswordRule{
		Tag:    "password_min_length",
		Text:   "This password is too short. It must contain at least {0} characters.",
		Params: []string{strconv.Itoa(n)},
		Check: func(password string, _ []string) bool {
			return utf8.RuneCountInString(password) >= n
		},
	}
}

// MaximumLength caps the encoded length at n bytes. bcrypt ignores input past 72 bytes.
func MaximumLength(n int) PasswordRule {
	return PasswordRule{
		Tag:    "password_max_length",
		Text:   "This password is too long. It must contain at most {0} bytes.",
		Params: []string{strconv.Itoa(n)},
		Check: func(password string, _ []string) bool {
			return len(password) <= n
		},
	}
}

// RequireDigit requires at least one digit.
func RequireDigit() PasswordRule {
	return PasswordRule{
		Tag:   "password_digit",
		Text:  "This password must contain at least one digit.",
		Check: containsRune(unicode.IsDigit),
	}
}

// RequireUpper requires at least one uppercase letter.
func RequireUpper() PasswordRule {
	return PasswordRule{
		Tag:   "password_upper",
		Text:  "This password must contain at least one uppercase letter.",
		Check: containsRune(unicode.IsUpper),
	}
}

// RequireLower requires at least one lowercase letter.
func RequireLower() PasswordRule {
	return PasswordRule{
		Tag:   "password_lower",
		Text:  "This password must contain at least one lowercase letter.",
		Check: containsRune(unicode.IsLower),
	}
}

// RequireSymbol requires at least one character that is neither a letter,
// a digit nor whitespace.
func RequireSymbol() PasswordRule {
	return PasswordRule{
		Tag:  "password_symbol",
		Text: "This password must contain at least one symbol.",
		Check: containsRune(func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
		}),
	}
}

// UserAttributeSimilarity rejects passwords whose similarity ratio to any
// user attribute, or any word of it, reaches maxSimilarity. Passwords longer
// than MaxPasswordBytes are not compared; MaximumLength reports them.
func UserAttributeSimilarity(maxSimilarity float64) PasswordRule {
	return PasswordRule{
		Tag:  "password_similarity",
		Text: "The password is too similar to the username or email.",
		Check: func(password string, attrs []string) bool {
			if len(password) > MaxPasswordBytes {
				return true
			}
			pw := strings.ToLower(password)
			for _, attr := range attrs {
				attr = strings.ToLower(attr)
				parts := append(strings.FieldsFunc(attr, func(r rune) bool {
					return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
				}), attr)
				for _, part := range parts {
					if exceedsLengthRatio(pw, part, maxSimilarity) {
						continue
					}
					if similarity(pw, part) >= maxSimilarity {
						return false
					}
				}
			}
			return true
		},
	}
}

// exceedsLengthRatio reports whether the password is so much longer than
// value that the two cannot reach maxSimilarity.
func exceedsLengthRatio(password, value string, maxSimilarity float64) bool {
	pwLen := utf8.RuneCountInString(password)
	valueLen := utf8.RuneCountInString(value)
	return pwLen >= 10*valueLen && float64(valueLen) < maxSimilarity/2*float64(pwLen)
}

func containsRune(fn func(rune) bool) func(string, []string) bool {
	return func(password string, _ []string) bool {
		return strings.IndexFunc(password, fn) >= 0
	}
}

// similarity is 2*M/T where M counts the characters a and b share as
// multisets and T is their combined length.
func similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 0
	}

	avail := make(map[rune]int)
	for _, r := range b {
		avail[r]++
	}

	matches := 0
	for _, r := range a {
		if avail[r] > 0 {
			avail[r]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(total)
}
