package protocol

// Реестры, которые сервер отправляет в фазе Configuration. Клиент 1.21.1
// знает набор данных minecraft:core, поэтому элементы передаются без NBT.
var (
	CorePack = KnownPack{Namespace: "minecraft", ID: "core", Version: "1.21.1"}

	// Biomes - порядок задаёт числовые ID биомов в чанках
	Biomes = []string{
		"minecraft:plains",
		"minecraft:desert",
		"minecraft:forest",
		"minecraft:ocean",
		"minecraft:beach",
		"minecraft:snowy_plains",
		"minecraft:the_void",
	}

	registriesV767 = []RegistryData{
		{RegistryID: "minecraft:dimension_type", Entries: entries(
			"minecraft:overworld",
		)},
		{RegistryID: "minecraft:worldgen/biome", Entries: entries(Biomes...)},
		{RegistryID: "minecraft:chat_type", Entries: entries(
			"minecraft:chat",
			"minecraft:emote_command",
			"minecraft:msg_command_incoming",
			"minecraft:msg_command_outgoing",
			"minecraft:say_command",
			"minecraft:team_msg_command_incoming",
			"minecraft:team_msg_command_outgoing",
		)},
		{RegistryID: "minecraft:trim_pattern", Entries: entries("minecraft:coast")},
		{RegistryID: "minecraft:trim_material", Entries: entries("minecraft:iron")},
		{RegistryID: "minecraft:wolf_variant", Entries: entries("minecraft:pale")},
		{RegistryID: "minecraft:painting_variant", Entries: entries("minecraft:kebab")},
		{RegistryID: "minecraft:banner_pattern", Entries: entries("minecraft:base")},
		{RegistryID: "minecraft:jukebox_song", Entries: entries("minecraft:13")},
		{RegistryID: "minecraft:enchantment", Entries: entries("minecraft:efficiency")},
		{RegistryID: "minecraft:damage_type", Entries: entries(
			"minecraft:arrow",
			"minecraft:bad_respawn_point",
			"minecraft:cactus",
			"minecraft:cramming",
			"minecraft:dragon_breath",
			"minecraft:drown",
			"minecraft:dry_out",
			"minecraft:explosion",
			"minecraft:fall",
			"minecraft:falling_anvil",
			"minecraft:falling_block",
			"minecraft:falling_stalactite",
			"minecraft:fireball",
			"minecraft:fireworks",
			"minecraft:fly_into_wall",
			"minecraft:freeze",
			"minecraft:generic",
			"minecraft:generic_kill",
			"minecraft:hot_floor",
			"minecraft:in_fire",
			"minecraft:in_wall",
			"minecraft:indirect_magic",
			"minecraft:lava",
			"minecraft:lightning_bolt",
			"minecraft:magic",
			"minecraft:mob_attack",
			"minecraft:mob_attack_no_aggro",
			"minecraft:mob_projectile",
			"minecraft:on_fire",
			"minecraft:out_of_world",
			"minecraft:outside_border",
			"minecraft:player_attack",
			"minecraft:player_explosion",
			"minecraft:sonic_boom",
			"minecraft:spit",
			"minecraft:stalagmite",
			"minecraft:starve",
			"minecraft:sting",
			"minecraft:sweet_berry_bush",
			"minecraft:thorns",
			"minecraft:thrown",
			"minecraft:trident",
			"minecraft:unattributed_fireball",
			"minecraft:wind_charge",
			"minecraft:wither",
			"minecraft:wither_skull",
		)},
	}
)

func entries(ids ...string) []RegistryEntry {
	out := make([]RegistryEntry, len(ids))
	for i, id := range ids {
		out[i] = RegistryEntry{ID: id}
	}
	return out
}

// Registries возвращает пакеты Registry Data для протокола 767
func Registries() []*RegistryData {
	out := make([]*RegistryData, len(registriesV767))
	for i := range registriesV767 {
		r := registriesV767[i]
		out[i] = &r
	}
	return out
}

// BiomeID возвращает числовой ID биома по имени
func BiomeID(name string) (int, bool) {
	for i, b := range Biomes {
		if b == name {
			return i, true
		}
	}
	return 0, false
}
