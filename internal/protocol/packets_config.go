package protocol

// Disconnect закрывает соединение в Configuration и Play
type Disconnect struct {
	Reason string
}

func (p *Disconnect) Encode(w *Writer) { w.TextComponent(p.Reason) }

func (p *Disconnect) Decode(r *Reader) error {
	p.Reason = r.TextComponent()
	return r.Err()
}

// KeepAlive - пинг сервера и ответ клиента с тем же ID
type KeepAlive struct {
	ID int64
}

func (p *KeepAlive) Encode(w *Writer) { w.Int64(p.ID) }

func (p *KeepAlive) Decode(r *Reader) error {
	p.ID = r.Int64()
	return r.Err()
}

// ClientInformation - настройки клиента (язык, дальность прорисовки и т.д.)
type ClientInformation struct {
	Locale              string
	ViewDistance        int8
	ChatMode            int32
	ChatColors          bool
	DisplayedSkinParts  uint8
	MainHand            int32
	TextFiltering       bool
	AllowServerListings bool
}

func (p *ClientInformation) Encode(w *Writer) {
	w.String(p.Locale)
	w.Int8(p.ViewDistance)
	w.VarInt(p.ChatMode)
	w.Bool(p.ChatColors)
	w.Uint8(p.DisplayedSkinParts)
	w.VarInt(p.MainHand)
	w.Bool(p.TextFiltering)
	w.Bool(p.AllowServerListings)
}

func (p *ClientInformation) Decode(r *Reader) error {
	p.Locale = r.String(16)
	p.ViewDistance = r.Int8()
	p.ChatMode = r.VarInt()
	p.ChatColors = r.Bool()
	p.DisplayedSkinParts = r.Uint8()
	p.MainHand = r.VarInt()
	p.TextFiltering = r.Bool()
	p.AllowServerListings = r.Bool()
	return r.Err()
}

// PluginMessage - сообщение по именованному каналу (например, minecraft:brand)
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (p *PluginMessage) Encode(w *Writer) {
	w.String(p.Channel)
	w.Raw(p.Data)
}

func (p *PluginMessage) Decode(r *Reader) error {
	p.Channel = r.String(DefaultMaxString)
	if r.Remaining() > maxPluginData {
		return r.errorf("plugin payload too large")
	}
	p.Data = r.Rest()
	return r.Err()
}

// RegistryEntry - элемент реестра. Без данных клиент берёт значение из
// известного ему набора данных.
type RegistryEntry struct {
	ID   string
	Data []byte // готовый сетевой NBT или nil
}

// RegistryData передаёт один реестр
type RegistryData struct {
	RegistryID string
	Entries    []RegistryEntry
}

func (p *RegistryData) Encode(w *Writer) {
	w.String(p.RegistryID)
	w.VarInt(int32(len(p.Entries)))
	for _, e := range p.Entries {
		w.String(e.ID)
		w.Bool(e.Data != nil)
		if e.Data != nil {
			w.Raw(e.Data)
		}
	}
}

func (p *RegistryData) Decode(r *Reader) error {
	p.RegistryID = r.String(DefaultMaxString)
	n := r.VarInt()
	if n < 0 || int(n) > r.Remaining() {
		return r.errorf("bad registry entry count %d", n)
	}
	p.Entries = make([]RegistryEntry, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		e := RegistryEntry{ID: r.String(DefaultMaxString)}
		if r.Bool() {
			start := r.off
			r.skipNBT(r.Uint8(), 0)
			if r.Err() == nil {
				e.Data = append([]byte(nil), r.buf[start:r.off]...)
			}
		}
		p.Entries = append(p.Entries, e)
	}
	return r.Err()
}

// FeatureFlags перечисляет включённые наборы возможностей
type FeatureFlags struct {
	Flags []string
}

func (p *FeatureFlags) Encode(w *Writer) {
	w.VarInt(int32(len(p.Flags)))
	for _, f := range p.Flags {
		w.String(f)
	}
}

func (p *FeatureFlags) Decode(r *Reader) error {
	n := r.VarInt()
	if n < 0 || int(n) > r.Remaining() {
		return r.errorf("bad feature flag count %d", n)
	}
	p.Flags = make([]string, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		p.Flags = append(p.Flags, r.String(DefaultMaxString))
	}
	return r.Err()
}

// KnownPack - набор данных, известный обеим сторонам
type KnownPack struct {
	Namespace string
	ID        string
	Version   string
}

// KnownPacks отправляется в обе стороны в фазе Configuration
type KnownPacks struct {
	Packs []KnownPack
}

func (p *KnownPacks) Encode(w *Writer) {
	w.VarInt(int32(len(p.Packs)))
	for _, k := range p.Packs {
		w.String(k.Namespace)
		w.String(k.ID)
		w.String(k.Version)
	}
}

func (p *KnownPacks) Decode(r *Reader) error {
	n := r.VarInt()
	if n < 0 || n > 64 {
		return r.errorf("bad known pack count %d", n)
	}
	p.Packs = make([]KnownPack, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		p.Packs = append(p.Packs, KnownPack{
			Namespace: r.String(DefaultMaxString),
			ID:        r.String(DefaultMaxString),
			Version:   r.String(DefaultMaxString),
		})
	}
	return r.Err()
}

// FinishConfiguration просит клиента завершить Configuration
type FinishConfiguration struct{}

func (p *FinishConfiguration) Encode(w *Writer)       {}
func (p *FinishConfiguration) Decode(r *Reader) error { return r.Err() }

// AcknowledgeFinishConfiguration - подтверждение клиента, после него фаза Play
type AcknowledgeFinishConfiguration struct{}

func (p *AcknowledgeFinishConfiguration) Encode(w *Writer)       {}
func (p *AcknowledgeFinishConfiguration) Decode(r *Reader) error { return r.Err() }

// Ignored принимает любое тело. Им регистрируются допустимые в фазе пакеты,
// которые сервер не обрабатывает.
type Ignored struct {
	Body []byte
}

func (p *Ignored) Encode(w *Writer) { w.Raw(p.Body) }

func (p *Ignored) Decode(r *Reader) error {
	p.Body = r.Rest()
	return r.Err()
}
