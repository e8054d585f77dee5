package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword возвращает bcrypt-хеш пароля
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword сравнивает пароль с bcrypt-хешем
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordProvider проверяет пароль, присланный клиентом по CredentialChannel
type PasswordProvider struct {
	Users UserRepository
}

// RequiresCredential реализует CredentialRequester
func (p *PasswordProvider) RequiresCredential() bool { return true }

// Validate реализует Provider
func (p *PasswordProvider) Validate(_ context.Context, creds Credentials) (Identity, error) {
	if !ValidName(creds.Name) {
		return Identity{}, Reject("Invalid player name")
	}
	if len(creds.Secret) == 0 {
		return Identity{}, Reject("Password required")
	}
	user, err := p.Users.ValidateCredentials(creds.Name, string(creds.Secret))
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrBadPassword) {
		return Identity{}, Reject("Invalid username or password")
	}
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: user.Username, UUID: OfflineUUID(user.Username), Admin: user.IsAdmin}, nil
}
