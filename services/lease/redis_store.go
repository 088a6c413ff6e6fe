package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rentora/models"

	"github.com/go-redis/redis/v8"
)

const leaseKeyPrefix = "paylease:"

// storedLease is the redis representation. Instants are millisecond epochs so
// the Lua scripts can compare them numerically.
type storedLease struct {
	ResourceID      string `json:"resourceId"`
	HolderID        string `json:"holderId"`
	AcquiredAtMS    int64  `json:"acquiredAtMs"`
	LastRenewedAtMS int64  `json:"lastRenewedAtMs"`
	TTLMS           int64  `json:"ttlMs"`
}

func toStored(l models.Lease) storedLease {
	return storedLease{
		ResourceID:      l.ResourceID,
		HolderID:        l.HolderID,
		AcquiredAtMS:    l.AcquiredAt.UnixMilli(),
		LastRenewedAtMS: l.LastRenewedAt.UnixMilli(),
		TTLMS:           l.TTLMS,
	}
}

func (s storedLease) toModel() *models.Lease {
	return &models.Lease{
		ResourceID:    s.ResourceID,
		HolderID:      s.HolderID,
		AcquiredAt:    time.UnixMilli(s.AcquiredAtMS),
		LastRenewedAt: time.UnixMilli(s.LastRenewedAtMS),
		TTLMS:         s.TTLMS,
	}
}

// acquireScript grants iff the key is absent, the current record is expired,
// or the current record is held by the requesting holder. On conflict it
// returns the current record so the service can describe the holder.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local l = cjson.decode(cur)
	if l.holderId ~= ARGV[2] and (l.lastRenewedAtMs + l.ttlMs) > tonumber(ARGV[3]) then
		return cur
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', tonumber(ARGV[4]))
return false
`)

var renewScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
local l = cjson.decode(cur)
if l.holderId ~= ARGV[1] then
	return 0
end
if (l.lastRenewedAtMs + l.ttlMs) <= tonumber(ARGV[2]) then
	return 0
end
l.lastRenewedAtMs = tonumber(ARGV[2])
redis.call('SET', KEYS[1], cjson.encode(l), 'PX', l.ttlMs)
return 1
`)

var releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 1
end
local l = cjson.decode(cur)
if l.holderId == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// RedisLeaseStore implements LeaseStore over a single redis instance. All
// conditional writes run as Lua scripts, so the compare-holder-then-write is
// atomic. Keys carry a PX expiry equal to the lease TTL: an abandoned lease
// disappears on its own even if nothing ever reads it again.
type RedisLeaseStore struct {
	Client *redis.Client
}

func NewRedisLeaseStore(client *redis.Client) *RedisLeaseStore {
	return &RedisLeaseStore{Client: client}
}

func leaseKey(resourceID string) string {
	return leaseKeyPrefix + resourceID
}

func (r *RedisLeaseStore) AcquireIfFree(ctx context.Context, lease models.Lease, now time.Time) (bool, *models.Lease, error) {
	payload, err := json.Marshal(toStored(lease))
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	res, err := acquireScript.Run(ctx, r.Client, []string{leaseKey(lease.ResourceID)},
		string(payload), lease.HolderID, now.UnixMilli(), lease.TTLMS).Result()
	if err == redis.Nil {
		// Lua false maps to a nil reply: the write happened.
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	raw, ok := res.(string)
	if !ok {
		return false, nil, fmt.Errorf("unexpected acquire script reply: %v", res)
	}
	var cur storedLease
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		return false, nil, fmt.Errorf("failed to unmarshal current lease: %w", err)
	}
	return false, cur.toModel(), nil
}

func (r *RedisLeaseStore) RenewIfOwner(ctx context.Context, resourceID, holderID string, now time.Time) (bool, error) {
	res, err := renewScript.Run(ctx, r.Client, []string{leaseKey(resourceID)},
		holderID, now.UnixMilli()).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisLeaseStore) ReleaseIfOwner(ctx context.Context, resourceID, holderID string) (bool, error) {
	res, err := releaseScript.Run(ctx, r.Client, []string{leaseKey(resourceID)}, holderID).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisLeaseStore) Get(ctx context.Context, resourceID string) (*models.Lease, error) {
	raw, err := r.Client.Get(ctx, leaseKey(resourceID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cur storedLease
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	return cur.toModel(), nil
}
