// Package learning turns accepted external classifications into candidate rules.
package learning

import (
	"strings"
	"unicode"

	"github.com/Veraticus/ruleflow/internal/common"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Card processors, terminals and articles that can precede a merchant name.
var noisePrefixes = map[string]bool{
	"SQ": true, "SQUARE": true, "TST": true, "PAYPAL": true, "PP": true,
	"EFTPOS": true, "POS": true, "VISA": true, "DEBIT": true, "PURCHASE": true,
	"CARD": true, "IZ": true, "ZLR": true, "SP": true, "THE": true,
}

// Legal-entity words. A token never starts with one of these.
var legalSuffixes = map[string]bool{
	"PTY": true, "LTD": true, "LIMITED": true, "LLC": true, "INC": true,
	"INCORPORATED": true, "CORP": true, "CORPORATION": true, "CO": true,
	"PLC": true, "GMBH": true, "PL": true, "AG": true, "SA": true, "NV": true,
	"BV": true, "LLP": true,
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// words splits an upper-cased payee on anything that is not a letter, digit,
// ampersand or apostrophe.
func words(payee string) []string {
	return strings.FieldsFunc(strings.ToUpper(stripMarks(payee)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&' && r != '\''
	})
}

func hasDigit(w string) bool {
	return strings.IndexFunc(w, unicode.IsDigit) >= 0
}

func letterCount(w string) int {
	n := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// stable reports whether w can identify a merchant on its own.
func stable(w string) bool {
	return !hasDigit(w) && letterCount(w) >= 2 && !legalSuffixes[w]
}

// trimTrailing drops location numbers, reference codes and legal-entity
// suffixes from the end of the word list.
func trimTrailing(ws []string) []string {
	for len(ws) > 0 {
		last := ws[len(ws)-1]
		if hasDigit(last) || legalSuffixes[last] || letterCount(last) == 0 {
			ws = ws[:len(ws)-1]
			continue
		}
		break
	}
	return ws
}

// ExtractMerchantToken returns the first stable word of a payee. Processor
// prefixes, leading reference or store codes and trailing location codes are
// skipped.
func ExtractMerchantToken(payee string) (string, error) {
	ws := trimTrailing(words(payee))

	for len(ws) > 0 && (noisePrefixes[ws[0]] || !stable(ws[0])) {
		ws = ws[1:]
	}

	if len(ws) == 0 {
		return "", &common.LearningExtractionError{Payee: payee}
	}
	return strings.Trim(ws[0], "'&"), nil
}
