package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Key      string    `json:"key"`
	Hash     []byte    `json:"hash"`
	Password string    `json:"password,omitempty"`
	Admin    bool      `json:"admin"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

type Token struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Hash      []byte    `json:"hash"`
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	hashed := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(hashed[:]), nil
}

func NewUser(email string, admin bool) (*User, error) {
	key, err := generateAPIKey()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &User{
		ID:      uuid.New().String(),
		Email:   email,
		Key:     key,
		Admin:   admin,
		Created: now,
		Updated: now,
	}, nil
}

func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return err
	}
	u.Hash = hash
	return nil
}

func (u *User) PasswordMatches(plaintext string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(u.Hash, []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (u *User) UpdateApiKey() error {
	key, err := generateAPIKey()
	if err != nil {
		return err
	}
	u.Key = key
	u.Updated = time.Now()
	return nil
}

// Sanitize strips credential material before a user leaves the server.
func (u *User) Sanitize() {
	u.Hash = nil
	u.Password = ""
}

func (u *User) MarshalBinary() ([]byte, error) {
	return json.Marshal(u)
}

func (u *User) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, u)
}

func CreateToken(userID, email string, ttl time.Duration) (*Token, error) {
	salt := make([]byte, 64)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	tk := &Token{
		ID:        uuid.New().String(),
		Email:     email,
		UserID:    userID,
		Token:     uuid.New().String(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	hash := sha256.Sum256([]byte(tk.Token))
	tk.Hash = hash[:]
	return tk, nil
}

func (t *Token) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

func (t *Token) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}
