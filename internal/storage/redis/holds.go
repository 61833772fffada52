package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/holds"
)

const (
	// DefaultLockTTL bounds how long a crashed instance can keep a hold locked.
	DefaultLockTTL = 30 * time.Second
	lockPollEvery  = 10 * time.Millisecond
)

// insertScript checks the slot and inserts the hold atomically.
//
// KEYS: hold, slot, pending zset, group set
// ARGV: hold json, hold id, now ms, expires ms, hold key prefix, lock key prefix, has group
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 'DUPLICATE'
end
local prev = redis.call('GET', KEYS[2])
if prev then
	if redis.call('EXISTS', ARGV[6] .. prev) == 1 then
		return 'UNAVAILABLE'
	end
	local raw = redis.call('GET', ARGV[5] .. prev)
	if raw then
		local h = cjson.decode(raw)
		if h.state == 'confirmed' then
			return 'UNAVAILABLE'
		end
		if h.state == 'pending' then
			local exp = redis.call('ZSCORE', KEYS[3], prev)
			if exp and tonumber(exp) >= tonumber(ARGV[3]) then
				return 'UNAVAILABLE'
			end
		end
	end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
if ARGV[7] == '1' then
	redis.call('SADD', KEYS[4], ARGV[2])
end
return 'OK'
`)

// writeScript stores a mutated hold only while the caller still owns the
// hold's lock. Retired holds and their index keys get a TTL.
//
// KEYS: lock, hold, pending zset, appointment, slot, group set
// ARGV: lock token, hold json, hold id, is pending, expires ms, retention ms, has appointment, has group
var writeScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 'LOST'
end
local ttl = tonumber(ARGV[6])
if ttl > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[2], ARGV[2])
end
if ARGV[4] == '1' then
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[3])
else
	redis.call('ZREM', KEYS[3], ARGV[3])
end
if ARGV[7] == '1' then
	if ttl > 0 then
		redis.call('SET', KEYS[4], ARGV[3], 'PX', ttl)
	else
		redis.call('SET', KEYS[4], ARGV[3])
	end
end
if ttl > 0 then
	if redis.call('GET', KEYS[5]) == ARGV[3] then
		redis.call('PEXPIRE', KEYS[5], ttl)
	end
	if ARGV[8] == '1' then
		redis.call('PEXPIRE', KEYS[6], ttl)
	end
end
return 'OK'
`)

// renewScript extends the lock only if we still own it.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// unlockScript deletes the lock only if we still own it.
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// HoldBackend stores holds as JSON documents. Pending holds are indexed in a
// sorted set scored by expiry; per-hold mutations take a lock key with a TTL
// that is renewed while the mutation runs. Expired, released and cancelled
// holds are kept for holds.TerminalRetention.
//
// The insert script reads keys derived from the slot index, so the backend
// requires a single Redis node (not Redis Cluster).
type HoldBackend struct {
	client    *goredis.Client
	prefix    string
	lockTTL   time.Duration
	retention time.Duration
}

var _ holds.Backend = (*HoldBackend)(nil)

// NewHoldBackend creates a backend using keys under prefix.
func NewHoldBackend(client *goredis.Client, prefix string, lockTTL time.Duration) *HoldBackend {
	if prefix == "" {
		prefix = DefaultConfig().KeyPrefix
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &HoldBackend{client: client, prefix: prefix, lockTTL: lockTTL, retention: holds.TerminalRetention}
}

func (b *HoldBackend) holdKey(id string) string { return b.prefix + "hold:" + id }
func (b *HoldBackend) slotKey(id string) string { return b.prefix + "slot:" + id }
func (b *HoldBackend) groupKey(id string) string { return b.prefix + "group:" + id }
func (b *HoldBackend) lockKey(id string) string { return b.prefix + "lock:" + id }
func (b *HoldBackend) apptKey(id string) string { return b.prefix + "appt:" + id }
func (b *HoldBackend) pendingKey() string { return b.prefix + "pending" }

func (b *HoldBackend) Insert(ctx context.Context, h holds.Hold, now time.Time) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hold: %w", err)
	}

	hasGroup := "0"
	if h.GroupID != "" {
		hasGroup = "1"
	}
	keys := []string{b.holdKey(h.ID), b.slotKey(h.SlotID), b.pendingKey(), b.groupKey(h.GroupID)}
	res, err := insertScript.Run(ctx, b.client, keys,
		string(data), h.ID, now.UnixMilli(), h.ExpiresAt.UnixMilli(),
		b.prefix+"hold:", b.prefix+"lock:", hasGroup,
	).Text()
	if err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}

	switch res {
	case "OK":
		return nil
	case "DUPLICATE":
		return holds.ErrDuplicateHold
	case "UNAVAILABLE":
		return apperr.SlotUnavailable(h.SlotID)
	default:
		return fmt.Errorf("insert hold: unexpected script result %q", res)
	}
}

func (b *HoldBackend) Get(ctx context.Context, id string) (holds.Hold, error) {
	data, err := b.client.Get(ctx, b.holdKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return holds.Hold{}, apperr.HoldNotFound(id)
		}
		return holds.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return decodeHold(data)
}

func (b *HoldBackend) Update(ctx context.Context, id string, fn holds.Mutation) (holds.Hold, error) {
	if _, err := b.Get(ctx, id); err != nil {
		return holds.Hold{}, err
	}

	token, err := b.lock(ctx, id, true)
	if err != nil {
		return holds.Hold{}, err
	}
	defer b.unlock(id, token)

	cur, err := b.Get(ctx, id)
	if err != nil {
		return holds.Hold{}, err
	}

	stop := b.keepLocked(id, token)
	next, fnErr := fn(cur)
	stop()
	if next == nil {
		return cur, fnErr
	}
	if err := b.write(ctx, *next, token); err != nil {
		return cur, err
	}
	return *next, fnErr
}

func (b *HoldBackend) FindByAppointment(ctx context.Context, appointmentID string) (holds.Hold, error) {
	id, err := b.client.Get(ctx, b.apptKey(appointmentID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return holds.Hold{}, apperr.HoldNotFound(appointmentID)
		}
		return holds.Hold{}, fmt.Errorf("find hold by appointment: %w", err)
	}
	return b.Get(ctx, id)
}

func (b *HoldBackend) ListGroup(ctx context.Context, groupID string) ([]holds.Hold, error) {
	ids, err := b.client.SMembers(ctx, b.groupKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list group: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.holdKey(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load group holds: %w", err)
	}

	out := make([]holds.Hold, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		h, err := decodeHold([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotStart.Equal(out[j].SlotStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].SlotStart.Before(out[j].SlotStart)
	})
	return out, nil
}

func (b *HoldBackend) ExpirePending(ctx context.Context, now time.Time) ([]holds.Hold, error) {
	ids, err := b.client.ZRangeByScore(ctx, b.pendingKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pending holds: %w", err)
	}

	var expired []holds.Hold
	for _, id := range ids {
		token, err := b.lock(ctx, id, false)
		if err != nil {
			if errors.Is(err, errLocked) {
				continue
			}
			return expired, err
		}

		h, err := b.expireLocked(ctx, id, token, now)
		b.unlock(id, token)
		if err != nil {
			return expired, err
		}
		if h != nil {
			expired = append(expired, *h)
		}
	}
	return expired, nil
}

func (b *HoldBackend) expireLocked(ctx context.Context, id, token string, now time.Time) (*holds.Hold, error) {
	h, err := b.Get(ctx, id)
	if errors.Is(err, apperr.ErrHoldNotFound) {
		return nil, b.client.ZRem(ctx, b.pendingKey(), id).Err()
	}
	if err != nil {
		return nil, err
	}
	if h.State != holds.StatePending {
		return nil, b.client.ZRem(ctx, b.pendingKey(), id).Err()
	}
	if !h.PastExpiry(now) {
		return nil, nil
	}

	h.State = holds.StateExpired
	h.UpdatedAt = now
	if err := b.write(ctx, h, token); err != nil {
		return nil, err
	}
	return &h, nil
}

func (b *HoldBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// errLockLost is returned when a hold's lock expired or was taken over
// before the mutation could be stored.
var errLockLost = errors.New("hold lock lost before write")

func (b *HoldBackend) write(ctx context.Context, h holds.Hold, token string) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hold: %w", err)
	}

	var retention int64
	if h.State.Retired() {
		retention = b.retention.Milliseconds()
	}
	keys := []string{
		b.lockKey(h.ID), b.holdKey(h.ID), b.pendingKey(),
		b.apptKey(h.AppointmentID), b.slotKey(h.SlotID), b.groupKey(h.GroupID),
	}
	res, err := writeScript.Run(ctx, b.client, keys,
		token, string(data), h.ID, flag(h.State == holds.StatePending),
		h.ExpiresAt.UnixMilli(), retention,
		flag(h.AppointmentID != ""), flag(h.GroupID != ""),
	).Text()
	if err != nil {
		return fmt.Errorf("write hold: %w", err)
	}
	if res == "LOST" {
		return fmt.Errorf("write hold %s: %w", h.ID, errLockLost)
	}
	return nil
}

// keepLocked renews the hold's lock until the returned stop function is
// called.
func (b *HoldBackend) keepLocked(id, token string) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(b.lockTTL/3, lockPollEvery))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = renewScript.Run(ctx, b.client, []string{b.lockKey(id)}, token, b.lockTTL.Milliseconds()).Err()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var errLocked = errors.New("hold is locked")

// lock takes the hold's lock key. With wait set it polls until the lock is
// free or ctx is done; otherwise it fails fast with errLocked.
func (b *HoldBackend) lock(ctx context.Context, id string, wait bool) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(lockPollEvery)
	defer ticker.Stop()
	for {
		ok, err := b.client.SetNX(ctx, b.lockKey(id), token, b.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("lock hold: %w", err)
		}
		if ok {
			return token, nil
		}
		if !wait {
			return "", errLocked
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *HoldBackend) unlock(id, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = unlockScript.Run(ctx, b.client, []string{b.lockKey(id)}, token).Err()
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func decodeHold(data []byte) (holds.Hold, error) {
	var h holds.Hold
	if err := json.Unmarshal(data, &h); err != nil {
		return holds.Hold{}, fmt.Errorf("decode hold: %w", err)
	}
	return h, nil
}
