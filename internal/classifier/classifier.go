// Package classifier holds the pure text rules applied to inbound SMS:
// phone number validation and OTP detection.
package classifier

import "regexp"

var (
	phonePattern    = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	phoneStrip      = regexp.MustCompile(`[^\d+]`)
	otpDigits       = regexp.MustCompile(`\b\d{4,8}\b`)
	otpKeywordRegex = []*regexp.Regexp{
		otpDigits,
		regexp.MustCompile(`(?i)verification code`),
		regexp.MustCompile(`(?i)security code`),
		regexp.MustCompile(`(?i)one[ -]?time`),
		regexp.MustCompile(`(?i)otp`),
	}
	// otpFilter is the looser match used by message listing and stats.
	otpFilter = regexp.MustCompile(`(?i)(otp|verification|code)`)
)

// OTPFilterKeywords are the substrings behind MatchesOTPFilter, for stores that
// have to express the same filter in their own query language.
var OTPFilterKeywords = []string{"otp", "verification", "code"}

func IsValidPhoneNumber(s string) bool {
	return phonePattern.MatchString(s)
}

// SanitizePhoneNumber drops everything but digits and '+'.
func SanitizePhoneNumber(s string) string {
	return phoneStrip.ReplaceAllString(s, "")
}

func IsOTPMessage(text string) bool {
	for _, re := range otpKeywordRegex {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractOTP returns the first standalone 4 to 8 digit run. It ignores the
// keyword rules of IsOTPMessage, so a keyword-only OTP message yields ok=false.
func ExtractOTP(text string) (string, bool) {
	m := otpDigits.FindString(text)
	return m, m != ""
}

// MatchesOTPFilter is the type=otp listing filter.
func MatchesOTPFilter(text string) bool {
	return otpFilter.MatchString(text)
}
