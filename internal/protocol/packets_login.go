package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

const maxPluginData = 1 << 20

// LoginStart - имя и UUID, заявленные клиентом
type LoginStart struct {
	Name string
	UUID uuid.UUID
}

func (p *LoginStart) Encode(w *Writer) {
	w.String(p.Name)
	w.UUID(p.UUID)
}

func (p *LoginStart) Decode(r *Reader) error {
	p.Name = r.String(16)
	p.UUID = r.UUID()
	return r.Err()
}

// LoginDisconnect закрывает соединение в фазе Login. Reason - JSON
// текстового компонента.
type LoginDisconnect struct {
	Reason string
}

// NewLoginDisconnect строит LoginDisconnect с простым текстом
func NewLoginDisconnect(text string) *LoginDisconnect {
	return &LoginDisconnect{Reason: JSONText(text)}
}

func (p *LoginDisconnect) Encode(w *Writer) { w.String(p.Reason) }

func (p *LoginDisconnect) Decode(r *Reader) error {
	p.Reason = r.String(262144)
	return r.Err()
}

// Text извлекает текст из Reason
func (p *LoginDisconnect) Text() string {
	var c struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(p.Reason), &c); err != nil {
		return p.Reason
	}
	return c.Text
}

// JSONText кодирует простой текстовый компонент в JSON
func JSONText(text string) string {
	data, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	return string(data)
}

// LoginProperty - свойство профиля (например, textures)
type LoginProperty struct {
	Name      string
	Value     string
	Signature string // пусто - без подписи
}

// LoginSuccess завершает Login; клиент отвечает LoginAcknowledged
type LoginSuccess struct {
	UUID                uuid.UUID
	Username            string
	Properties          []LoginProperty
	StrictErrorHandling bool
}

func (p *LoginSuccess) Encode(w *Writer) {
	w.UUID(p.UUID)
	w.String(p.Username)
	w.VarInt(int32(len(p.Properties)))
	for _, prop := range p.Properties {
		w.String(prop.Name)
		w.String(prop.Value)
		w.Bool(prop.Signature != "")
		if prop.Signature != "" {
			w.String(prop.Signature)
		}
	}
	w.Bool(p.StrictErrorHandling)
}

func (p *LoginSuccess) Decode(r *Reader) error {
	p.UUID = r.UUID()
	p.Username = r.String(16)
	n := r.VarInt()
	if n < 0 || n > 16 {
		return r.errorf("too many profile properties: %d", n)
	}
	p.Properties = make([]LoginProperty, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		var prop LoginProperty
		prop.Name = r.String(64)
		prop.Value = r.String(DefaultMaxString)
		if r.Bool() {
			prop.Signature = r.String(1024)
		}
		p.Properties = append(p.Properties, prop)
	}
	p.StrictErrorHandling = r.Bool()
	return r.Err()
}

// SetCompression включает сжатие. Действует на все кадры после этого пакета.
type SetCompression struct {
	Threshold int32
}

func (p *SetCompression) Encode(w *Writer) { w.VarInt(p.Threshold) }

func (p *SetCompression) Decode(r *Reader) error {
	p.Threshold = r.VarInt()
	return r.Err()
}

// LoginAcknowledged переводит соединение в Configuration
type LoginAcknowledged struct{}

func (p *LoginAcknowledged) Encode(w *Writer)       {}
func (p *LoginAcknowledged) Decode(r *Reader) error { return r.Err() }

// LoginPluginRequest - произвольный запрос сервера по каналу
type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

func (p *LoginPluginRequest) Encode(w *Writer) {
	w.VarInt(p.MessageID)
	w.String(p.Channel)
	w.Raw(p.Data)
}

func (p *LoginPluginRequest) Decode(r *Reader) error {
	p.MessageID = r.VarInt()
	p.Channel = r.String(DefaultMaxString)
	if r.Remaining() > maxPluginData {
		return r.errorf("plugin payload too large")
	}
	p.Data = r.Rest()
	return r.Err()
}

// LoginPluginResponse - ответ клиента; Successful=false если канал не понят
type LoginPluginResponse struct {
	MessageID  int32
	Successful bool
	Data       []byte
}

func (p *LoginPluginResponse) Encode(w *Writer) {
	w.VarInt(p.MessageID)
	w.Bool(p.Successful)
	if p.Successful {
		w.Raw(p.Data)
	}
}

func (p *LoginPluginResponse) Decode(r *Reader) error {
	p.MessageID = r.VarInt()
	p.Successful = r.Bool()
	if r.Remaining() > maxPluginData {
		return r.errorf("plugin payload too large")
	}
	if p.Successful {
		p.Data = r.Rest()
	}
	return r.Err()
}
