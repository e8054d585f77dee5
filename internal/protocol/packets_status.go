package protocol

// Handshake - первый пакет соединения, выбирает следующую фазу
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

func (p *Handshake) Encode(w *Writer) {
	w.VarInt(p.ProtocolVersion)
	w.String(p.ServerAddress)
	w.Uint16(p.ServerPort)
	w.VarInt(p.NextState)
}

func (p *Handshake) Decode(r *Reader) error {
	p.ProtocolVersion = r.VarInt()
	p.ServerAddress = r.String(255)
	p.ServerPort = r.Uint16()
	p.NextState = r.VarInt()
	if r.Err() == nil && (p.NextState < IntentStatus || p.NextState > IntentTransfer) {
		return r.errorf("invalid handshake intent %d", p.NextState)
	}
	return r.Err()
}

// StatusRequest запрашивает описание сервера
type StatusRequest struct{}

func (p *StatusRequest) Encode(w *Writer)       {}
func (p *StatusRequest) Decode(r *Reader) error { return r.Err() }

// StatusResponse несёт JSON описания сервера
type StatusResponse struct {
	JSON string
}

func (p *StatusResponse) Encode(w *Writer) { w.String(p.JSON) }

func (p *StatusResponse) Decode(r *Reader) error {
	p.JSON = r.String(DefaultMaxString)
	return r.Err()
}

// PingRequest - пинг в фазе Status
type PingRequest struct {
	Payload int64
}

func (p *PingRequest) Encode(w *Writer) { w.Int64(p.Payload) }

func (p *PingRequest) Decode(r *Reader) error {
	p.Payload = r.Int64()
	return r.Err()
}

// PongResponse возвращает Payload из PingRequest
type PongResponse struct {
	Payload int64
}

func (p *PongResponse) Encode(w *Writer) { w.Int64(p.Payload) }

func (p *PongResponse) Decode(r *Reader) error {
	p.Payload = r.Int64()
	return r.Err()
}
