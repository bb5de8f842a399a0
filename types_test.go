package vikauth

import (
	"errors"
	"testing"
)

func TestDeriveAuthType(t *testing.T) {
	cases := []struct {
		name         string
		hasPassword  bool
		hasFederated bool
		want         AuthType
		wantErr      bool
	}{
		{"password only", true, false, AuthTypeEmailOnly, false},
		{"federated only", false, true, AuthTypeFederatedOnly, false},
		{"both", true, true, AuthTypeMixed, false},
		{"neither", false, false, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeriveAuthType(tc.hasPassword, tc.hasFederated)
			if tc.wantErr {
				if !errors.Is(err, ErrInvariantViolation) {
					t.Fatalf("expected ErrInvariantViolation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("DeriveAuthType = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAccountRecordAuthType(t *testing.T) {
	rec := AccountRecord{PasswordHash: "$argon2id$...", HasFederatedAuth: true}
	at, err := rec.AuthType()
	if err != nil || at != AuthTypeMixed {
		t.Fatalf("AuthType = %v, %v", at, err)
	}

	rec.PasswordHash = ""
	at, err = rec.AuthType()
	if err != nil || at != AuthTypeFederatedOnly {
		t.Fatalf("AuthType after clearing hash = %v, %v", at, err)
	}
	if rec.HasPassword() {
		t.Fatal("HasPassword must be false for an empty hash")
	}
}

func TestAuthTypeString(t *testing.T) {
	cases := map[AuthType]string{
		AuthTypeEmailOnly:     "email_only",
		AuthTypeFederatedOnly: "federated_only",
		AuthTypeMixed:         "mixed",
		AuthType(99):          "unknown",
	}
	for at, want := range cases {
		if got := at.String(); got != want {
			t.Errorf("AuthType(%d).String() = %q, want %q", at, got, want)
		}
	}
}
