package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "authgate"
)

// Ключи состояния
const (
	// RedisKeyRevokedTokens — Sorted Set: member = jti, score = exp (unix)
	RedisKeyRevokedTokens = RedisNamespace + ":tokens:revoked_zset"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRevocations — сигнал "jti:true|false" для синхронизации L1 кэша отозванных токенов.
	RedisChanRevocations = RedisNamespace + ":tokens:revocation-signal"
)

// RevocationSignal формирует payload для RedisChanRevocations.
func RevocationSignal(tokenID string, revoked bool) string {
	return fmt.Sprintf("%s:%t", tokenID, revoked)
}
