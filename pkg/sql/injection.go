package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a literal value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // The literal that was checked
}

// CheckLiteralForInjection uses libinjection to detect SQL injection patterns
// inside a string literal taken from an observed query.
//
// Returns nil if no injection is detected.
//
// Example:
//
//	result := CheckLiteralForInjection("12345")
//	// result == nil
//
//	result := CheckLiteralForInjection("1' OR '1'='1")
//	// result.IsSQLi == true
func CheckLiteralForInjection(value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Value:       value,
	}
}

// CheckLiterals returns a result for every literal that looks like an injection attempt.
func CheckLiterals(values []string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, v := range values {
		if r := CheckLiteralForInjection(v); r != nil {
			results = append(results, r)
		}
	}
	return results
}
