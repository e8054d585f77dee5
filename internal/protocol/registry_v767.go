package protocol

// Id пакетов протокола 767 (1.21.1), которые используются вне таблицы
const (
	IDConfigDisconnect   int32 = 0x02
	IDConfigFinish       int32 = 0x03
	IDConfigKeepAlive    int32 = 0x04
	IDConfigRegistryData int32 = 0x07
	IDConfigFeatureFlags int32 = 0x0C
	IDConfigKnownPacks   int32 = 0x0E

	IDConfigClientInfo   int32 = 0x00
	IDConfigPlugin       int32 = 0x02
	IDConfigAckFinish    int32 = 0x03
	IDConfigKeepAliveAck int32 = 0x04
	IDConfigClientPacks  int32 = 0x07

	IDPlaySpawnEntity    int32 = 0x01
	IDPlayAckBlockChange int32 = 0x05
	IDPlayBlockUpdate    int32 = 0x09
	IDPlayDisconnect     int32 = 0x1D
	IDPlayUnloadChunk    int32 = 0x21
	IDPlayGameEvent      int32 = 0x22
	IDPlayKeepAlive      int32 = 0x26
	IDPlayChunkData      int32 = 0x27
	IDPlayLogin          int32 = 0x2B
	IDPlaySyncPosition   int32 = 0x40
	IDPlayRemoveEntities int32 = 0x42
	IDPlaySetCenterChunk int32 = 0x54
	IDPlaySystemChat     int32 = 0x6C
	IDPlayTeleportEntity int32 = 0x70

	IDPlayConfirmTeleport int32 = 0x00
	IDPlayChatMessage     int32 = 0x06
	IDPlayClientInfo      int32 = 0x0A
	IDPlayKeepAliveAck    int32 = 0x18
	IDPlaySetPosition     int32 = 0x1A
	IDPlaySetPosRot       int32 = 0x1B
	IDPlaySetRotation     int32 = 0x1C
	IDPlayPlayerAction    int32 = 0x24
	IDPlayUseItemOn       int32 = 0x38
)

// Serverbound пакеты Play, которые клиент шлёт постоянно, но сервер не
// обрабатывает: chat command, signed chat command, chat session update,
// chunk batch received, client status, command suggestion, click container,
// close container, plugin message, set on ground, move vehicle, player
// abilities, player command, player input, pong, set held item, swing arm,
// use item.
var ignoredPlayServerbound = []int32{
	0x04, 0x05, 0x07, 0x08, 0x09, 0x0B, 0x0E, 0x0F, 0x12, 0x1D,
	0x1E, 0x23, 0x25, 0x26, 0x27, 0x2F, 0x36, 0x39,
}

// Serverbound пакеты Configuration без обработки: cookie response, pong,
// resource pack response.
var ignoredConfigServerbound = []int32{0x01, 0x05, 0x06}

// RegisterV767 заполняет таблицу пакетами версии 767
func RegisterV767(s *Schema) {
	// Handshaking
	s.Register(PhaseHandshaking, Serverbound, 0x00, func() Packet { return &Handshake{} })

	// Status
	s.Register(PhaseStatus, Serverbound, 0x00, func() Packet { return &StatusRequest{} })
	s.Register(PhaseStatus, Serverbound, 0x01, func() Packet { return &PingRequest{} })
	s.Register(PhaseStatus, Clientbound, 0x00, func() Packet { return &StatusResponse{} })
	s.Register(PhaseStatus, Clientbound, 0x01, func() Packet { return &PongResponse{} })

	// Login
	s.Register(PhaseLogin, Serverbound, 0x00, func() Packet { return &LoginStart{} })
	s.Register(PhaseLogin, Serverbound, 0x02, func() Packet { return &LoginPluginResponse{} })
	s.Register(PhaseLogin, Serverbound, 0x03, func() Packet { return &LoginAcknowledged{} })
	s.Register(PhaseLogin, Clientbound, 0x00, func() Packet { return &LoginDisconnect{} })
	s.Register(PhaseLogin, Clientbound, 0x02, func() Packet { return &LoginSuccess{} })
	s.Register(PhaseLogin, Clientbound, 0x03, func() Packet { return &SetCompression{} })
	s.Register(PhaseLogin, Clientbound, 0x04, func() Packet { return &LoginPluginRequest{} })

	// Configuration
	s.Register(PhaseConfiguration, Clientbound, IDConfigDisconnect, func() Packet { return &Disconnect{} })
	s.Register(PhaseConfiguration, Clientbound, IDConfigFinish, func() Packet { return &FinishConfiguration{} })
	s.Register(PhaseConfiguration, Clientbound, IDConfigKeepAlive, func() Packet { return &KeepAlive{} })
	s.Register(PhaseConfiguration, Clientbound, IDConfigRegistryData, func() Packet { return &RegistryData{} })
	s.Register(PhaseConfiguration, Clientbound, IDConfigFeatureFlags, func() Packet { return &FeatureFlags{} })
	s.Register(PhaseConfiguration, Clientbound, IDConfigKnownPacks, func() Packet { return &KnownPacks{} })
	s.Register(PhaseConfiguration, Serverbound, IDConfigClientInfo, func() Packet { return &ClientInformation{} })
	s.Register(PhaseConfiguration, Serverbound, IDConfigPlugin, func() Packet { return &PluginMessage{} })
	s.Register(PhaseConfiguration, Serverbound, IDConfigAckFinish, func() Packet { return &AcknowledgeFinishConfiguration{} })
	s.Register(PhaseConfiguration, Serverbound, IDConfigKeepAliveAck, func() Packet { return &KeepAlive{} })
	s.Register(PhaseConfiguration, Serverbound, IDConfigClientPacks, func() Packet { return &KnownPacks{} })
	for _, id := range ignoredConfigServerbound {
		s.Register(PhaseConfiguration, Serverbound, id, func() Packet { return &Ignored{} })
	}

	// Play
	s.Register(PhasePlay, Clientbound, IDPlaySpawnEntity, func() Packet { return &SpawnEntity{} })
	s.Register(PhasePlay, Clientbound, IDPlayAckBlockChange, func() Packet { return &AcknowledgeBlockChange{} })
	s.Register(PhasePlay, Clientbound, IDPlayBlockUpdate, func() Packet { return &BlockUpdate{} })
	s.Register(PhasePlay, Clientbound, IDPlayDisconnect, func() Packet { return &Disconnect{} })
	s.Register(PhasePlay, Clientbound, IDPlayUnloadChunk, func() Packet { return &UnloadChunk{} })
	s.Register(PhasePlay, Clientbound, IDPlayGameEvent, func() Packet { return &GameEvent{} })
	s.Register(PhasePlay, Clientbound, IDPlayKeepAlive, func() Packet { return &KeepAlive{} })
	s.Register(PhasePlay, Clientbound, IDPlayChunkData, func() Packet { return &ChunkData{} })
	s.Register(PhasePlay, Clientbound, IDPlayLogin, func() Packet { return &LoginPlay{} })
	s.Register(PhasePlay, Clientbound, IDPlaySyncPosition, func() Packet { return &SyncPlayerPosition{} })
	s.Register(PhasePlay, Clientbound, IDPlayRemoveEntities, func() Packet { return &RemoveEntities{} })
	s.Register(PhasePlay, Clientbound, IDPlaySetCenterChunk, func() Packet { return &SetCenterChunk{} })
	s.Register(PhasePlay, Clientbound, IDPlaySystemChat, func() Packet { return &SystemChat{} })
	s.Register(PhasePlay, Clientbound, IDPlayTeleportEntity, func() Packet { return &TeleportEntity{} })

	s.Register(PhasePlay, Serverbound, IDPlayConfirmTeleport, func() Packet { return &ConfirmTeleport{} })
	s.Register(PhasePlay, Serverbound, IDPlayChatMessage, func() Packet { return &ChatMessage{} })
	s.Register(PhasePlay, Serverbound, IDPlayClientInfo, func() Packet { return &ClientInformation{} })
	s.Register(PhasePlay, Serverbound, IDPlayKeepAliveAck, func() Packet { return &KeepAlive{} })
	s.Register(PhasePlay, Serverbound, IDPlaySetPosition, func() Packet { return &SetPlayerPosition{} })
	s.Register(PhasePlay, Serverbound, IDPlaySetPosRot, func() Packet { return &SetPlayerPositionAndRotation{} })
	s.Register(PhasePlay, Serverbound, IDPlaySetRotation, func() Packet { return &SetPlayerRotation{} })
	s.Register(PhasePlay, Serverbound, IDPlayPlayerAction, func() Packet { return &PlayerAction{} })
	s.Register(PhasePlay, Serverbound, IDPlayUseItemOn, func() Packet { return &UseItemOn{} })
	for _, id := range ignoredPlayServerbound {
		s.Register(PhasePlay, Serverbound, id, func() Packet { return &Ignored{} })
	}
}
