package auth

import (
	"context"
	"crypto/md5"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// CredentialChannel - канал Login Plugin Request, по которому сервер
// запрашивает у клиента пароль или токен
const CredentialChannel = "blockverse:auth"

// Credentials - данные, полученные в фазе Login
type Credentials struct {
	Name       string
	UUID       uuid.UUID // UUID из Login Start, клиенту не доверяем
	Secret     []byte    // ответ на запрос CredentialChannel
	RemoteAddr string
}

// Identity - подтверждённая личность игрока
type Identity struct {
	Name  string
	UUID  uuid.UUID
	Admin bool
}

// Provider проверяет данные входа
type Provider interface {
	Validate(ctx context.Context, creds Credentials) (Identity, error)
}

// CredentialRequester реализуют провайдеры, которым нужен секрет от клиента
type CredentialRequester interface {
	RequiresCredential() bool
}

// NeedsCredential сообщает, нужно ли запрашивать у клиента секрет
func NeedsCredential(p Provider) bool {
	cr, ok := p.(CredentialRequester)
	return ok && cr.RequiresCredential()
}

// Rejection - отказ во входе; Reason показывается игроку
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "login rejected: " + r.Reason
}

// Reject создаёт отказ с форматированной причиной
func Reject(format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

var validName = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// ValidName проверяет имя игрока
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// OfflineUUID возвращает UUID версии 3 от "OfflinePlayer:<name>", как его
// вычисляет клиент без сервера аутентификации
func OfflineUUID(name string) uuid.UUID {
	h := md5.Sum([]byte("OfflinePlayer:" + name))
	h[6] = h[6]&0x0f | 0x30
	h[8] = h[8]&0x3f | 0x80
	return uuid.UUID(h)
}

// OfflineProvider пускает любого игрока с корректным именем
type OfflineProvider struct{}

// Validate реализует Provider
func (OfflineProvider) Validate(_ context.Context, creds Credentials) (Identity, error) {
	if !ValidName(creds.Name) {
		return Identity{}, Reject("Invalid player name")
	}
	return Identity{Name: creds.Name, UUID: OfflineUUID(creds.Name)}, nil
}

// WhitelistProvider пропускает к Next только игроков из белого списка
type WhitelistProvider struct {
	Next    Provider
	allowed map[string]struct{}
}

// NewWhitelistProvider создаёт декоратор белого списка
func NewWhitelistProvider(next Provider, names []string) *WhitelistProvider {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[normalize(n)] = struct{}{}
	}
	return &WhitelistProvider{Next: next, allowed: allowed}
}

// Validate реализует Provider
func (w *WhitelistProvider) Validate(ctx context.Context, creds Credentials) (Identity, error) {
	if _, ok := w.allowed[normalize(creds.Name)]; !ok {
		return Identity{}, Reject("You are not white-listed on this server!")
	}
	return w.Next.Validate(ctx, creds)
}

// RequiresCredential передаёт требование обёрнутого провайдера
func (w *WhitelistProvider) RequiresCredential() bool {
	return NeedsCredential(w.Next)
}
