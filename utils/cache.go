// File: utils/cache.go
package utils

import (
	"context"
	"log"
	"time"

	"rentora/config"

	"github.com/go-redis/redis/v8"
)

var (
	// LeaseClient is the dedicated client for lease storage.
	LeaseClient *redis.Client
	// SessionCacheClient is the dedicated client for payment session caching.
	SessionCacheClient *redis.Client
)

// InitLeaseStore initializes the Redis client backing the lease service
// (using DB from AppConfig for lease records).
func InitLeaseStore() {
	LeaseClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisLeaseDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := LeaseClient.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Failed to connect to Redis (Lease): %v", err)
	}
}

// GetLeaseClient returns the Redis client for lease storage.
func GetLeaseClient() *redis.Client {
	if LeaseClient == nil {
		InitLeaseStore()
	}
	return LeaseClient
}

// InitSessionCache initializes the Redis client for payment session caching
// (using DB from AppConfig for session cache).
func InitSessionCache() {
	SessionCacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisSessionDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := SessionCacheClient.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Failed to connect to Redis (Session Cache): %v", err)
	}
}

// GetSessionCacheClient returns the Redis client for payment session caching.
func GetSessionCacheClient() *redis.Client {
	if SessionCacheClient == nil {
		InitSessionCache()
	}
	return SessionCacheClient
}

// InitRedis initializes all Redis clients eagerly at startup.
func InitRedis() {
	InitLeaseStore()
	InitSessionCache()
}
