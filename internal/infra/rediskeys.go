package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "waf"
)

// Ключи для Sets (состояние)
const (
	RedisKeyBlockedClients     = RedisNamespace + ":clients:blocked_set"
	RedisKeyLockBlockedClients = RedisNamespace + ":lock:sync:blocked"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanBlocklist - сигналы "ip:on" / "ip:off" от консоли.
	RedisChanBlocklist = RedisNamespace + ":clients:blocklist-signal"
	// RedisChanRulesUpdate - "refresh": шлюзы перечитывают набор правил.
	RedisChanRulesUpdate = RedisNamespace + ":rules:update"
)

// Signal - payload сигнала для каналов состояния: "id:on" / "id:off".
func Signal(id string, on bool) string {
	if on {
		return id + ":on"
	}
	return id + ":off"
}
