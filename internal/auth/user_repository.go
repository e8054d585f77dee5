package auth

import "errors"

// UserRepository хранит учётные записи
type UserRepository interface {
	// GetUserByUsername ищет пользователя без учёта регистра
	GetUserByUsername(username string) (*User, error)

	// CreateUser создаёт пользователя; passwordHash - bcrypt-хеш
	CreateUser(username string, passwordHash string, isAdmin bool) (*User, error)

	// ValidateCredentials проверяет пароль и отмечает время входа
	ValidateCredentials(username, password string) (*User, error)
}

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrBadPassword  = errors.New("bad password")
)
