package auth

import "time"

// User - учётная запись игрока для входа по паролю
type User struct {
	ID           uint64
	Username     string
	PasswordHash string // bcrypt
	CreatedAt    time.Time
	LastLogin    time.Time
	IsAdmin      bool
}
