package chatwoot

import "math/rand/v2"

const (
	passwordUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordLower   = "abcdefghijklmnopqrstuvwxyz"
	passwordDigits  = "0123456789"
	passwordSymbols = "!@#$%^&*()_+-="
	passwordLength  = 16
)

// generatePassword produces a throwaway password containing at least one
// character from each class the platform's strength validator requires. Users
// authenticate via SSO, so strength is a formality and math/rand suffices.
func generatePassword() string {
	chars := make([]byte, 0, passwordLength)
	chars = append(chars,
		passwordUpper[rand.IntN(len(passwordUpper))],
		passwordLower[rand.IntN(len(passwordLower))],
		passwordDigits[rand.IntN(len(passwordDigits))],
		passwordSymbols[rand.IntN(len(passwordSymbols))],
	)

	all := passwordUpper + passwordLower + passwordDigits + passwordSymbols
	for len(chars) < passwordLength {
		chars = append(chars, all[rand.IntN(len(all))])
	}

	rand.Shuffle(len(chars), func(i, j int) {
		chars[i], chars[j] = chars[j], chars[i]
	})

	return string(chars)
}
