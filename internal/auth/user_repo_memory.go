package auth

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MemoryUserRepo - потокобезопасное хранилище учётных записей в памяти.
// ID выдаются по порядку, начиная с 1.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // ключ - имя в нижнем регистре
	nextID uint64
}

// NewMemoryUserRepo создаёт пустой репозиторий
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		nextID: 1,
	}
}

type usersFile struct {
	Users []struct {
		Name         string `yaml:"name"`
		PasswordHash string `yaml:"password_hash"`
		Admin        bool   `yaml:"admin"`
	} `yaml:"users"`
}

// LoadUsersFile читает учётные записи из YAML файла вида
//
//	users:
//	  - name: alice
//	    password_hash: $2a$10$...
//	    admin: true
func LoadUsersFile(path string) (*MemoryUserRepo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file %s: %w", path, err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}

	repo := NewMemoryUserRepo()
	for i, u := range f.Users {
		if !ValidName(u.Name) || u.PasswordHash == "" {
			return nil, fmt.Errorf("users file %s: entry %d is incomplete", path, i)
		}
		if _, err := repo.CreateUser(u.Name, u.PasswordHash, u.Admin); err != nil {
			return nil, fmt.Errorf("users file %s: %s: %w", path, u.Name, err)
		}
	}
	return repo, nil
}

// GetUserByUsername реализует UserRepository
func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// CreateUser реализует UserRepository
func (r *MemoryUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	key := normalize(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[key]; exists {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		IsAdmin:      isAdmin,
	}
	r.nextID++
	r.users[key] = user
	u := *user
	return &u, nil
}

// ValidateCredentials реализует UserRepository
func (r *MemoryUserRepo) ValidateCredentials(username, password string) (*User, error) {
	r.mu.RLock()
	user, ok := r.users[normalize(username)]
	var hash string
	if ok {
		hash = user.PasswordHash
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	// bcrypt медленный, сравниваем без блокировки
	if !CheckPassword(hash, password) {
		return nil, ErrBadPassword
	}

	r.mu.Lock()
	user.LastLogin = time.Now()
	u := *user
	r.mu.Unlock()
	return &u, nil
}

func normalize(username string) string {
	return strings.ToLower(username)
}
