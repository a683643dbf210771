package internal

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := generateAPIKey()
	if err != nil {
		t.Fatalf("generateAPIKey failed: %v", err)
	}

	if key == "" {
		t.Error("generateAPIKey returned an empty key")
	}

	// The key is sha256 (32 bytes) then base64 StdEncoded (padded).
	// Base64 of 32 bytes is (32 / 3) * 4 = 42.66, so 44 characters (since it's padded to a multiple of 4).
	if len(key) != 44 {
		t.Errorf("expected key length of 44, got %d", len(key))
	}

	key2, err := generateAPIKey()
	if err != nil {
		t.Fatalf("generateAPIKey failed for second call: %v", err)
	}

	if key == key2 {
		t.Error("two generated keys should be different")
	}
}

func TestNewUser(t *testing.T) {
	email := "test@example.com"
	admin := true

	user, err := NewUser(email, admin)
	if err != nil {
		t.Fatalf("NewUser failed: %v", err)
	}

	if user.Email != email {
		t.Errorf("expected email %s, got %s", email, user.Email)
	}
	if user.Admin != admin {
		t.Errorf("expected admin %v, got %v", admin, user.Admin)
	}
	if user.ID == "" {
		t.Error("user ID should not be empty")
	}
	if user.Key == "" {
		t.Error("user API Key should not be empty")
	}

	now := time.Now()
	if user.Created.After(now) || user.Updated.After(now) {
		t.Error("created/updated time should not be in the future")
	}
	if !user.Created.Equal(user.Updated) {
		t.Error("created and updated time should be equal initially")
	}
}

func TestUser_SetPassword(t *testing.T) {
	user, _ := NewUser("test@example.com", false)
	password := "securepassword123"

	err := user.SetPassword(password)
	if err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	if len(user.Hash) == 0 {
		t.Error("user Hash should be set")
	}

	// Verify the hash is a valid bcrypt hash for the password
	err = bcrypt.CompareHashAndPassword(user.Hash, []byte(password))
	if err != nil {
		t.Errorf("bcrypt.CompareHashAndPassword failed: %v", err)
	}
}

func TestUser_UpdateApiKey(t *testing.T) {
	user, _ := NewUser("test@example.com", false)
	originalKey := user.Key

	err := user.UpdateApiKey()
	if err != nil {
		t.Fatalf("UpdateApiKey failed: %v", err)
	}

	if user.Key == originalKey {
		t.Error("UpdateApiKey did not change the key")
	}
	if user.Key == "" {
		t.Error("Updated key should not be empty")
	}
}

func TestUser_PasswordMatches(t *testing.T) {
	user, _ := NewUser("test@example.com", false)
	password := "correctHorseBatteryStaple"
	user.SetPassword(password)

	tests := []struct {
		name      string
		input     string
		wantMatch bool
		wantErr   bool
	}{
		{"Correct Password", password, true, false},
		{"Incorrect Password", "wrongPassword", false, false},
		{"Empty Password", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMatch, err := user.PasswordMatches(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PasswordMatches() error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotMatch != tt.wantMatch {
				t.Errorf("PasswordMatches() gotMatch = %v, wantMatch %v", gotMatch, tt.wantMatch)
			}
		})
	}
}

func TestUser_Sanitize(t *testing.T) {
	user, _ := NewUser("test@example.com", false)
	user.SetPassword("secret")

	if len(user.Hash) == 0 {
		t.Fatal("pre-check failed: Hash is empty before Sanitize")
	}

	user.Sanitize()

	if user.Hash != nil {
		t.Errorf("Sanitize failed: Hash should be nil, got %v", user.Hash)
	}
	if user.Password != "" {
		t.Errorf("Sanitize failed: Password should be empty string, got %s", user.Password)
	}
}

func TestCreateToken(t *testing.T) {
	tk, err := CreateToken("user-uuid-xyz", "token@test.com", 24*time.Hour)
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}
	if tk.Token == "" {
		t.Error("token value should not be empty")
	}
	if tk.UserID != "user-uuid-xyz" || tk.Email != "token@test.com" {
		t.Errorf("token identity mismatch: %+v", tk)
	}
	if !tk.ExpiresAt.After(tk.CreatedAt) {
		t.Error("token should expire after it was created")
	}
	if len(tk.Hash) == 0 {
		t.Error("token hash should be set")
	}

	tk2, _ := CreateToken("user-uuid-xyz", "token@test.com", 24*time.Hour)
	if tk.Token == tk2.Token {
		t.Error("two tokens for the same user should differ")
	}
}
