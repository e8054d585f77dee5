package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/tick"
	"github.com/annel0/blockverse/internal/vec"
)

// id запроса Login Plugin Request за учётными данными
const credentialMessageID int32 = 1

// unexpected - пакет известен схеме, но не допустим в текущем состоянии
func unexpected(phase protocol.Phase, p protocol.Packet) error {
	return &protocol.Error{Kind: protocol.KindUnknownPacket, Phase: phase, ID: -1,
		Msg: fmt.Sprintf("unexpected %T", p)}
}

func (s *Session) handle(phase protocol.Phase, p protocol.Packet) error {
	switch phase {
	case protocol.PhaseHandshaking:
		return s.handleHandshake(p)
	case protocol.PhaseStatus:
		return s.handleStatus(p)
	case protocol.PhaseLogin:
		return s.handleLogin(p)
	case protocol.PhaseConfiguration:
		return s.handleConfiguration(p)
	case protocol.PhasePlay:
		return s.handlePlay(p)
	}
	return unexpected(phase, p)
}

func (s *Session) handleHandshake(p protocol.Packet) error {
	hs, ok := p.(*protocol.Handshake)
	if !ok {
		return unexpected(protocol.PhaseHandshaking, p)
	}
	s.clientVersion = hs.ProtocolVersion
	next := protocol.PhaseLogin
	if hs.NextState == protocol.IntentStatus {
		next = protocol.PhaseStatus
	}
	s.advance(protocol.PhaseHandshaking, next)
	return nil
}

// Status

type statusJSON struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description struct {
		Text string `json:"text"`
	} `json:"description"`
	EnforcesSecureChat bool `json:"enforcesSecureChat"`
}

func (s *Session) statusResponse() (*protocol.StatusResponse, error) {
	var info StatusInfo
	if s.cfg.Status != nil {
		info = s.cfg.Status()
	}
	var st statusJSON
	st.Version.Name = s.cfg.VersionName
	st.Version.Protocol = s.cfg.Schema.Version()
	st.Players.Max = info.Max
	st.Players.Online = info.Online
	st.Description.Text = info.MOTD
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return &protocol.StatusResponse{JSON: string(data)}, nil
}

func (s *Session) handleStatus(p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.StatusRequest:
		if s.statusSent {
			return unexpected(protocol.PhaseStatus, p)
		}
		s.statusSent = true
		resp, err := s.statusResponse()
		if err != nil {
			return err
		}
		return s.enqueue(protocol.PhaseStatus, resp, nil)
	case *protocol.PingRequest:
		if err := s.enqueue(protocol.PhaseStatus, &protocol.PongResponse{Payload: p.Payload}, nil); err != nil {
			return err
		}
		s.Close("", nil)
		return nil
	}
	return unexpected(protocol.PhaseStatus, p)
}

// Login

func (s *Session) outdatedReason() string {
	if s.clientVersion < s.cfg.Schema.Version() {
		return "Outdated client! Please use " + s.cfg.VersionName
	}
	return "Outdated server! I'm still on " + s.cfg.VersionName
}

func (s *Session) reject(reason, label string) {
	s.cfg.Metrics.LoginRejected(label)
	s.log.Info("session %d: login of %q rejected: %s", s.id, s.creds.Name, reason)
	s.Close(reason, nil)
}

func (s *Session) handleLogin(p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.LoginStart:
		if s.loginStarted {
			return unexpected(protocol.PhaseLogin, p)
		}
		s.loginStarted = true
		s.creds = auth.Credentials{Name: p.Name, UUID: p.UUID, RemoteAddr: s.RemoteAddr()}

		if s.clientVersion != s.cfg.Schema.Version() {
			s.reject(s.outdatedReason(), "version")
			return nil
		}
		if s.cfg.Admit != nil {
			release, err := s.cfg.Admit()
			if err != nil {
				reason := err.Error()
				var rej *auth.Rejection
				if errors.As(err, &rej) {
					reason = rej.Reason
				}
				s.reject(reason, "capacity")
				return nil
			}
			s.release = release
		}

		if auth.NeedsCredential(s.cfg.Auth) {
			s.awaitingCreds = true
			return s.enqueue(protocol.PhaseLogin, &protocol.LoginPluginRequest{
				MessageID: credentialMessageID,
				Channel:   auth.CredentialChannel,
			}, nil)
		}
		return s.authenticate()

	case *protocol.LoginPluginResponse:
		if !s.awaitingCreds || p.MessageID != credentialMessageID {
			return unexpected(protocol.PhaseLogin, p)
		}
		s.awaitingCreds = false
		if !p.Successful {
			s.reject("Authentication required", "credential")
			return nil
		}
		s.creds.Secret = p.Data
		return s.authenticate()

	case *protocol.LoginAcknowledged:
		if !s.loginDone {
			return unexpected(protocol.PhaseLogin, p)
		}
		if !s.advance(protocol.PhaseLogin, protocol.PhaseConfiguration) {
			return nil
		}
		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			return fmt.Errorf("clear deadline: %w", err)
		}
		close(s.kaStart)
		return s.beginConfiguration()
	}
	return unexpected(protocol.PhaseLogin, p)
}

func (s *Session) authenticate() error {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	id, err := s.cfg.Auth.Validate(ctx, s.creds)
	if err != nil {
		var rej *auth.Rejection
		if errors.As(err, &rej) {
			s.reject(rej.Reason, "auth")
			return nil
		}
		s.log.Error("session %d: auth of %q failed: %v", s.id, s.creds.Name, err)
		s.reject("Authentication failed", "error")
		return nil
	}

	s.joinMu.Lock()
	s.identity = id
	s.joinMu.Unlock()

	if t := s.cfg.CompressionThreshold; t >= 0 {
		err := s.enqueue(protocol.PhaseLogin, &protocol.SetCompression{Threshold: int32(t)}, func() {
			s.enc.SetCompression(t)
		})
		if err != nil {
			return err
		}
		s.dec.SetCompression(t)
	}

	s.loginDone = true
	s.log.Info("session %d: %s (%s) logged in from %s", s.id, id.Name, id.UUID, s.RemoteAddr())
	return s.enqueue(protocol.PhaseLogin, &protocol.LoginSuccess{UUID: id.UUID, Username: id.Name}, nil)
}

// Configuration

func (s *Session) beginConfiguration() error {
	if err := s.enqueue(protocol.PhaseConfiguration, &protocol.FeatureFlags{Flags: []string{"minecraft:vanilla"}}, nil); err != nil {
		return err
	}
	return s.enqueue(protocol.PhaseConfiguration, &protocol.KnownPacks{Packs: []protocol.KnownPack{protocol.CorePack}}, nil)
}

func (s *Session) handleConfiguration(p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.ClientInformation:
		s.viewDistance = int(p.ViewDistance)
		return nil

	case *protocol.KnownPacks:
		if s.finishQueued() {
			return unexpected(protocol.PhaseConfiguration, p)
		}
		if !hasPack(p.Packs, protocol.CorePack) {
			s.log.Warn("session %d: client does not know %s:%s", s.id, protocol.CorePack.Namespace, protocol.CorePack.ID)
		}
		for _, reg := range protocol.Registries() {
			if err := s.enqueue(protocol.PhaseConfiguration, reg, nil); err != nil {
				return err
			}
		}
		return s.enqueue(protocol.PhaseConfiguration, &protocol.FinishConfiguration{}, func() {
			s.finishSent = true
		})

	case *protocol.AcknowledgeFinishConfiguration:
		if !s.finishQueued() {
			return unexpected(protocol.PhaseConfiguration, p)
		}
		if !s.advance(protocol.PhaseConfiguration, protocol.PhasePlay) {
			return nil
		}
		return s.joinWorld()

	case *protocol.KeepAlive:
		return s.keepAliveAck(p.ID)

	case *protocol.PluginMessage, *protocol.Ignored:
		return nil
	}
	return unexpected(protocol.PhaseConfiguration, p)
}

func (s *Session) finishQueued() bool {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	return s.finishSent
}

func hasPack(packs []protocol.KnownPack, want protocol.KnownPack) bool {
	for _, p := range packs {
		if p.Namespace == want.Namespace && p.ID == want.ID {
			return true
		}
	}
	return false
}

func (s *Session) joinWorld() error {
	s.joinMu.Lock()
	if s.closing {
		s.joinMu.Unlock()
		return nil
	}
	err := s.cfg.Intents.Submit(&tick.Join{
		Header:       s.nextHeader(),
		Client:       s,
		Identity:     s.identity,
		ViewDistance: s.viewDistance,
	})
	if err == nil {
		s.joined = true
	}
	s.joinMu.Unlock()
	return err
}

// Play

func (s *Session) submit(in tick.Intent) error {
	return s.cfg.Intents.Submit(in)
}

func (s *Session) handlePlay(p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.SetPlayerPosition:
		return s.submit(&tick.Move{
			Header:   s.nextHeader(),
			Pos:      vec.Vec3{X: p.X, Y: p.Y, Z: p.Z},
			OnGround: p.OnGround,
			HasPos:   true,
		})
	case *protocol.SetPlayerPositionAndRotation:
		return s.submit(&tick.Move{
			Header:   s.nextHeader(),
			Pos:      vec.Vec3{X: p.X, Y: p.Y, Z: p.Z},
			Yaw:      p.Yaw,
			Pitch:    p.Pitch,
			OnGround: p.OnGround,
			HasPos:   true,
			HasRot:   true,
		})
	case *protocol.SetPlayerRotation:
		return s.submit(&tick.Move{
			Header:   s.nextHeader(),
			Yaw:      p.Yaw,
			Pitch:    p.Pitch,
			OnGround: p.OnGround,
			HasRot:   true,
		})
	case *protocol.PlayerAction:
		// В творческом режиме блок ломается уже по началу копания
		if p.Status != protocol.ActionStartDigging && p.Status != protocol.ActionFinishedDigging {
			return nil
		}
		return s.submit(&tick.BreakBlock{Header: s.nextHeader(), Pos: p.Position, Sequence: p.Sequence})
	case *protocol.UseItemOn:
		return s.submit(&tick.Interact{Header: s.nextHeader(), Pos: p.Position, Face: p.Face, Sequence: p.Sequence})
	case *protocol.ChatMessage:
		return s.submit(&tick.Chat{Header: s.nextHeader(), Text: p.Message})
	case *protocol.ClientInformation:
		return s.submit(&tick.ViewDistance{Header: s.nextHeader(), Radius: int(p.ViewDistance)})
	case *protocol.KeepAlive:
		return s.keepAliveAck(p.ID)
	case *protocol.ConfirmTeleport, *protocol.Ignored:
		return nil
	}
	return unexpected(protocol.PhasePlay, p)
}
