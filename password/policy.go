package password

import (
	"context"
	"strings"
)

// Policy configures the composition rules enforced by [Validate].
//
// Policy instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool

	// HistoryDepth is how many previous password hashes a new password is
	// compared against. Zero disables the history check.
	HistoryDepth int
}

// DefaultPolicy returns the baseline policy: 8..128 bytes, all four
// character classes, history depth 5.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		HistoryDepth:   5,
	}
}

// ViolationCode identifies a single failed policy check.
type ViolationCode string

// Violation codes returned by [Validate]. A rejected password carries every
// code that applies, not just the first.
const (
	ViolationTooShort        ViolationCode = "too_short"
	ViolationTooLong         ViolationCode = "too_long"
	ViolationMissingUpper    ViolationCode = "missing_uppercase"
	ViolationMissingLower    ViolationCode = "missing_lowercase"
	ViolationMissingDigit    ViolationCode = "missing_digit"
	ViolationMissingSpecial  ViolationCode = "missing_special"
	ViolationCommonPassword  ViolationCode = "common_password"
	ViolationSequentialRun   ViolationCode = "sequential_characters"
	ViolationRepeatedRun     ViolationCode = "repeated_characters"
	ViolationKeyboardPattern ViolationCode = "keyboard_pattern"
	ViolationPersonalInfo    ViolationCode = "contains_personal_info"
	ViolationHistoryReuse    ViolationCode = "password_recently_used"
)

// Violation pairs a machine-readable code with a caller-facing message.
type Violation struct {
	Code    ViolationCode
	Message string
}

// StrengthLabel buckets the 0..100 strength score.
type StrengthLabel string

const (
	StrengthWeak       StrengthLabel = "weak"
	StrengthMedium     StrengthLabel = "medium"
	StrengthStrong     StrengthLabel = "strong"
	StrengthVeryStrong StrengthLabel = "very_strong"
)

// Result is the full outcome of a policy evaluation. Score and Label are
// computed even when the password is rejected so callers can surface
// strength feedback alongside the violations.
type Result struct {
	Valid      bool
	Violations []Violation
	Score      int
	Label      StrengthLabel
}

// AccountContext carries the account attributes a password must not contain.
// A nil context skips the personal-information check.
type AccountContext struct {
	AccountID string
	Email     string
	FirstName string
	LastName  string
}

// HistoryChecker reports whether candidate matches one of the account's most
// recent passwords. Implementations verify candidate against stored hashes;
// plaintext history is never kept.
type HistoryChecker interface {
	MatchesRecent(ctx context.Context, accountID, candidate string, depth int) (bool, error)
}

// Validate runs every policy check against candidate and returns the
// accumulated result. All checks run regardless of earlier failures.
//
// Validate may return an error only when the history backend fails; policy
// rejections are reported through the Result, not the error.
func Validate(
	ctx context.Context,
	candidate string,
	policy Policy,
	account *AccountContext,
	history HistoryChecker,
) (Result, error) {
	var violations []Violation

	add := func(code ViolationCode, msg string) {
		violations = append(violations, Violation{Code: code, Message: msg})
	}

	if len(candidate) < policy.MinLength {
		add(ViolationTooShort, "password is shorter than the required minimum length")
	}
	if policy.MaxLength > 0 && len(candidate) > policy.MaxLength {
		add(ViolationTooLong, "password exceeds the maximum allowed length")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if policy.RequireUpper && !hasUpper {
		add(ViolationMissingUpper, "password must contain an uppercase letter")
	}
	if policy.RequireLower && !hasLower {
		add(ViolationMissingLower, "password must contain a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		add(ViolationMissingDigit, "password must contain a digit")
	}
	if policy.RequireSpecial && !hasSpecial {
		add(ViolationMissingSpecial, "password must contain a special character")
	}

	lower := strings.ToLower(candidate)
	patternHit := false

	if isCommonPassword(lower) {
		add(ViolationCommonPassword, "password appears in a list of commonly used passwords")
		patternHit = true
	}
	if hasSequentialRun(lower) {
		add(ViolationSequentialRun, "password contains sequential characters")
		patternHit = true
	}
	if hasRepeatedRun(candidate) {
		add(ViolationRepeatedRun, "password contains three or more repeated characters")
		patternHit = true
	}
	if hasKeyboardRun(lower) {
		add(ViolationKeyboardPattern, "password contains a keyboard pattern")
		patternHit = true
	}
	if containsPersonalInfo(lower, account) {
		add(ViolationPersonalInfo, "password must not contain your name or email")
		patternHit = true
	}

	if history != nil && policy.HistoryDepth > 0 && account != nil && account.AccountID != "" {
		reused, err := history.MatchesRecent(ctx, account.AccountID, candidate, policy.HistoryDepth)
		if err != nil {
			return Result{}, err
		}
		if reused {
			add(ViolationHistoryReuse, "password was used recently and cannot be reused yet")
			patternHit = true
		}
	}

	score := strengthScore(candidate, hasUpper, hasLower, hasDigit, hasSpecial, patternHit)

	return Result{
		Valid:      len(violations) == 0,
		Violations: violations,
		Score:      score,
		Label:      labelFor(score),
	}, nil
}

// strengthScore is additive and deterministic: length up to 30, character
// variety up to 40, distinct-character ratio up to 15, and a 15 point bonus
// when no weak-pattern check fired.
func strengthScore(candidate string, upper, lowerCase, digit, special, patternHit bool) int {
	if candidate == "" {
		return 0
	}

	score := len(candidate) * 2
	if score > 30 {
		score = 30
	}

	for _, present := range []bool{upper, lowerCase, digit, special} {
		if present {
			score += 10
		}
	}

	distinct := make(map[rune]struct{}, len(candidate))
	for _, r := range candidate {
		distinct[r] = struct{}{}
	}
	score += len(distinct) * 15 / len(candidate)

	if !patternHit {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}

func labelFor(score int) StrengthLabel {
	switch {
	case score < 40:
		return StrengthWeak
	case score < 60:
		return StrengthMedium
	case score < 80:
		return StrengthStrong
	default:
		return StrengthVeryStrong
	}
}

// hasSequentialRun detects three-character ascending or descending runs
// within a single character class, e.g. "abc", "321".
func hasSequentialRun(lower string) bool {
	for i := 0; i+2 < len(lower); i++ {
		a, b, c := lower[i], lower[i+1], lower[i+2]
		if !sameClass(a, b) || !sameClass(b, c) {
			continue
		}
		if b == a+1 && c == b+1 {
			return true
		}
		if b == a-1 && c == b-1 {
			return true
		}
	}
	return false
}

func sameClass(a, b byte) bool {
	aAlpha := a >= 'a' && a <= 'z'
	bAlpha := b >= 'a' && b <= 'z'
	aDigit := a >= '0' && a <= '9'
	bDigit := b >= '0' && b <= '9'
	return (aAlpha && bAlpha) || (aDigit && bDigit)
}

func hasRepeatedRun(candidate string) bool {
	for i := 0; i+2 < len(candidate); i++ {
		if candidate[i] == candidate[i+1] && candidate[i] == candidate[i+2] {
			return true
		}
	}
	return false
}

func hasKeyboardRun(lower string) bool {
	for i := 0; i+2 < len(lower); i++ {
		window := lower[i : i+3]
		for _, row := range keyboardRows {
			if strings.Contains(row, window) || strings.Contains(reverse(row), window) {
				return true
			}
		}
	}
	return false
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func containsPersonalInfo(lower string, account *AccountContext) bool {
	if account == nil {
		return false
	}

	fragments := []string{account.FirstName, account.LastName}
	if at := strings.IndexByte(account.Email, '@'); at > 0 {
		fragments = append(fragments, account.Email[:at])
	}

	for _, fragment := range fragments {
		fragment = strings.ToLower(strings.TrimSpace(fragment))
		if len(fragment) < 3 {
			continue
		}
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
