package chatwoot

import (
	"strings"
	"testing"
)

func TestGeneratePassword(t *testing.T) {
	for i := 0; i < 100; i++ {
		password := generatePassword()

		if len(password) != passwordLength {
			t.Fatalf("Expected length %d, got %d", passwordLength, len(password))
		}
		if !strings.ContainsAny(password, passwordUpper) {
			t.Errorf("Password %q missing an uppercase character", password)
		}
		if !strings.ContainsAny(password, passwordLower) {
			t.Errorf("Password %q missing a lowercase character", password)
		}
		if !strings.ContainsAny(password, passwordDigits) {
			t.Errorf("Password %q missing a digit", password)
		}
		if !strings.ContainsAny(password, passwordSymbols) {
			t.Errorf("Password %q missing a symbol", password)
		}
	}
}

func TestGeneratePassword_NotConstant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[generatePassword()] = true
	}
	if len(seen) < 2 {
		t.Error("Expected generated passwords to vary")
	}
}
