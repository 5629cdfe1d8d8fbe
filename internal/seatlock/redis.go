package seatlock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/redis/go-redis/v9"
)

const holderKeyPrefix = "holder_locks:"

// Per-seat records live in a hash under seat_lock:<showtime>:<seat> with an
// EXPIRE while Selecting. A set per showtime (seat_locks:<showtime>) and a
// set per holder (holder_locks:<holder>) index the record keys; expired
// members are pruned lazily during scans, so neither index needs its own
// TTL bookkeeping.

var claimScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "holder")
	if owner == false then
		redis.call("HSET", KEYS[1], "holder", ARGV[1], "conn", ARGV[2], "status", "selecting", "created", ARGV[3])
		redis.call("EXPIRE", KEYS[1], ARGV[4])
		redis.call("SADD", KEYS[2], ARGV[5])
		redis.call("SADD", KEYS[3], ARGV[6])
		return {"acquired", ""}
	end
	if owner == ARGV[1] then
		if redis.call("HGET", KEYS[1], "status") == "selecting" then
			redis.call("HSET", KEYS[1], "conn", ARGV[2])
			redis.call("EXPIRE", KEYS[1], ARGV[4])
			return {"refreshed", ""}
		end
		return {"held", ""}
	end
	return {"conflict", owner}
`)

var releaseScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "holder")
	if owner == false then
		return "absent"
	end
	if redis.call("HGET", KEYS[1], "status") ~= "selecting" then
		return "notselecting"
	end
	if owner ~= ARGV[1] and ARGV[2] ~= "1" then
		return "notowner"
	end
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[3])
	redis.call("SREM", ARGV[5] .. owner, ARGV[4])
	return "ok"
`)

var promoteScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "holder")
	if owner == false then
		return "absent"
	end
	if owner ~= ARGV[1] then
		return "notowner"
	end
	if redis.call("HGET", KEYS[1], "status") == "booked" then
		return "ok"
	end
	redis.call("HSET", KEYS[1], "status", "booked")
	redis.call("PERSIST", KEYS[1])
	return "ok"
`)

var removeBookedScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "holder")
	if owner == false then
		return "absent"
	end
	if redis.call("HGET", KEYS[1], "status") == "selecting" then
		return "absent"
	end
	if owner ~= ARGV[1] then
		return "notowner"
	end
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[2])
	redis.call("SREM", ARGV[4] .. owner, ARGV[3])
	return "ok"
`)

var extendScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "holder")
	if owner == false then
		return "absent"
	end
	if owner ~= ARGV[1] then
		return "notowner"
	end
	if redis.call("HGET", KEYS[1], "status") ~= "selecting" then
		return "booked"
	end
	redis.call("EXPIRE", KEYS[1], ARGV[2])
	return "ok"
`)

// snapshotScript walks a showtime's seat index, prunes members whose record
// expired, and returns alternating seat/status pairs for the rest.
var snapshotScript = redis.NewScript(`
	local cursor = "0"
	local expired = {}
	local out = {}

	repeat
		local result = redis.call("SSCAN", KEYS[1], cursor, "COUNT", 100)
		cursor = result[1]
		for _, seat in ipairs(result[2]) do
			local status = redis.call("HGET", "seat_lock:" .. ARGV[1] .. ":" .. seat, "status")
			if status == false then
				table.insert(expired, seat)
			else
				table.insert(out, seat)
				table.insert(out, status)
			end
		end
	until cursor == "0"

	if #expired > 0 then
		redis.call("SREM", KEYS[1], unpack(expired))
	end

	return out
`)

// holderScanScript does the same pruning walk over a holder's index and
// returns alternating member/status pairs. Members are "<showtime>:<seat>",
// which is exactly the record key suffix.
var holderScanScript = redis.NewScript(`
	local expired = {}
	local out = {}

	for _, member in ipairs(redis.call("SMEMBERS", KEYS[1])) do
		local status = redis.call("HGET", "seat_lock:" .. member, "status")
		if status == false then
			table.insert(expired, member)
		else
			table.insert(out, member)
			table.insert(out, status)
		end
	end

	if #expired > 0 then
		redis.call("SREM", KEYS[1], unpack(expired))
	end

	return out
`)

var seedScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], "holder", ARGV[1], "conn", "", "status", ARGV[2], "created", ARGV[3])
	redis.call("SADD", KEYS[2], ARGV[4])
	redis.call("SADD", KEYS[3], ARGV[5])
	return 1
`)

// RedisStore is the distributed SeatLockStore backend. All mutations run as
// Lua scripts so each seat key stays atomic under concurrent claims.
type RedisStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		now: time.Now,
	}
}

func seatLockKey(showtimeID int64, seat domain.SeatID) string {
	return fmt.Sprintf("seat_lock:%d:%s", showtimeID, seat)
}

func seatSetKey(showtimeID int64) string {
	return fmt.Sprintf("seat_locks:%d", showtimeID)
}

func holderSetKey(holderID string) string {
	return holderKeyPrefix + holderID
}

func holderMember(showtimeID int64, seat domain.SeatID) string {
	return fmt.Sprintf("%d:%s", showtimeID, seat)
}

func ttlSeconds(ttl time.Duration) int {
	secs := int(ttl.Seconds())
	if secs < 1 {
		secs = 1
	}

	return secs
}

func (s *RedisStore) Claim(ctx context.Context, p ClaimParams) (ClaimResult, error) {
	keys := []string{
		seatLockKey(p.ShowtimeID, p.Seat),
		seatSetKey(p.ShowtimeID),
		holderSetKey(p.HolderID),
	}

	raw, err := claimScript.Run(ctx, s.rdb, keys,
		p.HolderID,
		p.ConnectionID,
		s.now().Unix(),
		ttlSeconds(p.TTL),
		p.Seat.String(),
		holderMember(p.ShowtimeID, p.Seat),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis claim: %w", err)
	}

	verdict, owner, err := parsePair(raw)
	if err != nil {
		return 0, fmt.Errorf("redis claim: %w", err)
	}

	switch verdict {
	case "acquired":
		return ClaimAcquired, nil
	case "refreshed":
		return ClaimRefreshed, nil
	case "held":
		return ClaimAlreadyHeld, nil
	case "conflict":
		return 0, &domain.SeatConflictError{SeatID: p.Seat, OwnerID: owner}
	}

	return 0, fmt.Errorf("redis claim: unexpected verdict %q", verdict)
}

func (s *RedisStore) Release(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, admin bool) (bool, error) {
	adminFlag := "0"
	if admin {
		adminFlag = "1"
	}

	keys := []string{seatLockKey(showtimeID, seat), seatSetKey(showtimeID)}

	verdict, err := releaseScript.Run(ctx, s.rdb, keys,
		holderID,
		adminFlag,
		seat.String(),
		holderMember(showtimeID, seat),
		holderKeyPrefix,
	).Text()
	if err != nil {
		return false, fmt.Errorf("redis release: %w", err)
	}

	switch verdict {
	case "ok":
		return true, nil
	case "absent":
		return false, nil
	case "notowner":
		return false, domain.ErrNotOwner
	case "notselecting":
		return false, domain.ErrAlreadyBooked
	}

	return false, fmt.Errorf("redis release: unexpected verdict %q", verdict)
}

func (s *RedisStore) Promote(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	verdict, err := promoteScript.Run(ctx, s.rdb,
		[]string{seatLockKey(showtimeID, seat)}, holderID).Text()
	if err != nil {
		return fmt.Errorf("redis promote: %w", err)
	}

	return verdictErr("redis promote", verdict)
}

func (s *RedisStore) RemoveBooked(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	keys := []string{seatLockKey(showtimeID, seat), seatSetKey(showtimeID)}

	verdict, err := removeBookedScript.Run(ctx, s.rdb, keys,
		holderID,
		seat.String(),
		holderMember(showtimeID, seat),
		holderKeyPrefix,
	).Text()
	if err != nil {
		return fmt.Errorf("redis remove booked: %w", err)
	}

	return verdictErr("redis remove booked", verdict)
}

func (s *RedisStore) ExtendHold(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, ttl time.Duration) error {
	verdict, err := extendScript.Run(ctx, s.rdb,
		[]string{seatLockKey(showtimeID, seat)}, holderID, ttlSeconds(ttl)).Text()
	if err != nil {
		return fmt.Errorf("redis extend: %w", err)
	}

	switch verdict {
	case "ok":
		return nil
	case "absent":
		return domain.ErrRecordNotFound
	case "notowner":
		return domain.ErrNotOwner
	case "booked":
		return domain.ErrAlreadyBooked
	}

	return fmt.Errorf("redis extend: unexpected verdict %q", verdict)
}

func (s *RedisStore) Snapshot(ctx context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error) {
	raw, err := snapshotScript.Run(ctx, s.rdb,
		[]string{seatSetKey(showtimeID)}, showtimeID).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis snapshot: %w", err)
	}

	snap := make(map[domain.SeatID]domain.HoldStatus, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		seat, err := domain.ParseSeatID(raw[i])
		if err != nil {
			return nil, fmt.Errorf("redis snapshot: %w", err)
		}
		snap[seat] = domain.HoldStatus(raw[i+1])
	}

	return snap, nil
}

func (s *RedisStore) HolderRecords(ctx context.Context, holderID string) ([]domain.RecordRef, error) {
	raw, err := holderScanScript.Run(ctx, s.rdb,
		[]string{holderSetKey(holderID)}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis holder records: %w", err)
	}

	refs := make([]domain.RecordRef, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		ref, err := parseHolderMember(raw[i])
		if err != nil {
			return nil, fmt.Errorf("redis holder records: %w", err)
		}
		ref.Status = domain.HoldStatus(raw[i+1])
		refs = append(refs, ref)
	}

	return refs, nil
}

func (s *RedisStore) Seed(ctx context.Context, showtimeID int64, records []SeedRecord) (int, error) {
	for _, rec := range records {
		if !rec.Status.Seedable() {
			return 0, fmt.Errorf("redis seed %s: status %q is not seedable", rec.Seat, rec.Status)
		}
	}

	created := s.now().Unix()
	seeded := 0

	for _, rec := range records {
		keys := []string{
			seatLockKey(showtimeID, rec.Seat),
			seatSetKey(showtimeID),
			holderSetKey(rec.HolderID),
		}

		n, err := seedScript.Run(ctx, s.rdb, keys,
			rec.HolderID,
			string(rec.Status),
			created,
			rec.Seat.String(),
			holderMember(showtimeID, rec.Seat),
		).Int()
		if err != nil {
			return seeded, fmt.Errorf("redis seed %s: %w", rec.Seat, err)
		}
		seeded += n
	}

	return seeded, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}

func parsePair(raw any) (string, string, error) {
	vals, ok := raw.([]any)
	if !ok || len(vals) != 2 {
		return "", "", fmt.Errorf("unexpected script reply %v", raw)
	}

	verdict, _ := vals[0].(string)
	owner, _ := vals[1].(string)

	return verdict, owner, nil
}

func parseHolderMember(member string) (domain.RecordRef, error) {
	idx := strings.IndexByte(member, ':')
	if idx < 1 {
		return domain.RecordRef{}, fmt.Errorf("malformed index member %q", member)
	}

	showtimeID, err := strconv.ParseInt(member[:idx], 10, 64)
	if err != nil {
		return domain.RecordRef{}, fmt.Errorf("malformed index member %q", member)
	}

	seat, err := domain.ParseSeatID(member[idx+1:])
	if err != nil {
		return domain.RecordRef{}, fmt.Errorf("malformed index member %q", member)
	}

	return domain.RecordRef{ShowtimeID: showtimeID, SeatID: seat}, nil
}

func verdictErr(op, verdict string) error {
	switch verdict {
	case "ok":
		return nil
	case "absent":
		return domain.ErrRecordNotFound
	case "notowner":
		return domain.ErrNotOwner
	}

	return fmt.Errorf("%s: unexpected verdict %q", op, verdict)
}
