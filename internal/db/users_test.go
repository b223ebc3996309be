package db

import (
	"testing"
)

func seed(t *testing.T, db *DB, accounts ...Account) {
	t.Helper()
	res := db.EnsureTestAccounts(accounts)
	if !res.OK() {
		t.Fatalf("EnsureTestAccounts failed: %s", res)
	}
}

func TestDB_Login(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, Account{Username: "Ettore", Password: "secret", Status: "media"})

	tests := []struct {
		name     string
		username string
		password string
		code     ErrorCode
	}{
		{"valid", "ettore", "secret", ""},
		{"case and spaces", "  ETTORE ", "secret", ""},
		{"wrong password", "ettore", "nope", CodeInvalidCredentials},
		{"unknown user", "nobody", "secret", CodeInvalidCredentials},
		{"empty username", "   ", "secret", CodeEmptyCredentials},
		{"empty password", "ettore", "", CodeEmptyCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := db.Login(tt.username, tt.password)
			if res.Code != tt.code {
				t.Fatalf("Login code = %q, want %q", res.Code, tt.code)
			}
			if tt.code == "" && (res.Value.Username != "ettore" || res.Value.Status != "media") {
				t.Errorf("Unexpected user %#v", res.Value)
			}
		})
	}
}

func TestDB_EnsureTestAccounts(t *testing.T) {
	db := openTestDB(t)

	res := db.EnsureTestAccounts([]Account{
		{Username: "a", Password: "pw-a", Status: "media"},
		{Username: "b", Password: "", Status: "developer"},
	})
	if !res.OK() || res.Value != 1 {
		t.Fatalf("EnsureTestAccounts = %#v, want 1 account", res)
	}
	if db.Login("b", "anything").Code != CodeInvalidCredentials {
		t.Error("An account without a password must not be seeded")
	}

	var before string
	db.conn.QueryRow("SELECT password_hash FROM users WHERE username = 'a'").Scan(&before)

	// Same password keeps the hash, status follows the input
	seed(t, db, Account{Username: "a", Password: "pw-a", Status: "developer"})
	var after, status string
	db.conn.QueryRow("SELECT password_hash, status FROM users WHERE username = 'a'").Scan(&after, &status)
	if before != after {
		t.Error("Hash changed although the password did not")
	}
	if status != "developer" {
		t.Errorf("Status = %q, want developer", status)
	}

	// A new password replaces the hash
	seed(t, db, Account{Username: "a", Password: "pw-new", Status: "developer"})
	if !db.Login("a", "pw-new").OK() {
		t.Error("Login with the rotated password failed")
	}
	if db.Login("a", "pw-a").OK() {
		t.Error("The old password still works after rotation")
	}
}
