package auth

import (
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name          string
		password      string
		shouldFail    bool
		errorContains string
	}{
		{
			name:       "valid strong password",
			password:   "SecureP@ss123",
			shouldFail: false,
		},
		{
			name:          "too short",
			password:      "Pass@1",
			shouldFail:    true,
			errorContains: "invalid password",
		},
		{
			name:          "missing uppercase",
			password:      "securepass@123",
			shouldFail:    true,
			errorContains: "invalid password",
		},
		{
			name:          "missing lowercase",
			password:      "SECUREPASS@123",
			shouldFail:    true,
			errorContains: "invalid password",
		},
		{
			name:          "missing digit",
			password:      "SecurePass@xyz",
			shouldFail:    true,
			errorContains: "invalid password",
		},
		{
			name:          "missing special character",
			password:      "SecurePass123",
			shouldFail:    true,
			errorContains: "invalid password",
		},
		{
			name:          "common password rejected",
			password:      "password123",
			shouldFail:    true,
			errorContains: "invalid password",
		},
		{
			name:       "valid with symbols",
			password:   "MyP@ssw0rd!",
			shouldFail: false,
		},
		{
			name:          "too long",
			password:      strings.Repeat("Aa1@", 40),
			shouldFail:    true,
			errorContains: "invalid password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if tt.shouldFail {
				if err == nil {
					t.Errorf("expected error, got nil")
				} else if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errorContains)
				}
				return
			}

			if err != nil {
				t.Errorf("expected nil, got %v", err)
			}
		})
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("SecureP@ss123")
	if err != nil {
		t.Fatalf("HashPassword() = %v, want nil", err)
	}

	if hash == "SecureP@ss123" {
		t.Fatal("hash equals plaintext")
	}

	if err := ComparePassword(hash, "SecureP@ss123"); err != nil {
		t.Errorf("ComparePassword with correct password: %v", err)
	}

	if err := ComparePassword(hash, "WrongP@ss123"); err == nil {
		t.Error("ComparePassword with wrong password: got nil, want error")
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("HashPassword(\"\") = nil, want error")
	}
}
