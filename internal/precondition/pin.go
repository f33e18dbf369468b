package precondition

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// PINSpecialCharacters is the set of characters the "s" content class
// accepts.
const PINSpecialCharacters = `.:,;-_<>+*!/()=?$§%&#~^`

// pinClass is one content class of the otp_pin_contents grammar.
// pattern is the textual form quoted in error messages.
type pinClass struct {
	flag    byte
	pattern string
	match   func(rune) bool
}

var pinClasses = []pinClass{
	{'c', "[a-zA-Z]", func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}},
	{'n', "[0-9]", func(r rune) bool {
		return r >= '0' && r <= '9'
	}},
	{'s', "[" + PINSpecialCharacters + "]", func(r rune) bool {
		return strings.ContainsRune(PINSpecialCharacters, r)
	}},
}

// CheckPINContents validates pin against a contents specification made
// of the class flags c (letters), n (digits) and s (special
// characters). Plainly listed classes must each occur in the PIN. A
// leading "-" inverts the check: none of the listed classes may occur.
// A leading "+" groups the classes and is accepted as written.
// Violations are KindDenied errors.
func CheckPINContents(pin, contents string) error {
	subtract := false
	switch {
	case strings.HasPrefix(contents, "-"):
		subtract = true
		contents = contents[1:]
	case strings.HasPrefix(contents, "+"):
		contents = contents[1:]
	}

	for _, class := range pinClasses {
		if !strings.ContainsRune(contents, rune(class.flag)) {
			continue
		}
		found := strings.ContainsFunc(pin, class.match)
		if subtract && found {
			return types.DeniedError("Forbidden character in PIN: %s", class.pattern)
		}
		if !subtract && !found {
			return types.DeniedError("Missing character in PIN: %s", class.pattern)
		}
	}
	return nil
}

// pinAlphabet feeds GeneratePIN: lowercase and uppercase letters plus
// digits, the classic generated-password alphabet.
const pinAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePIN returns a random PIN of length n drawn uniformly from
// letters and digits.
func GeneratePIN(n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("negative PIN length %d", n)
	}
	max := big.NewInt(int64(len(pinAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = pinAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
