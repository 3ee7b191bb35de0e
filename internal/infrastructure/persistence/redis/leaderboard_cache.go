package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE
//
// Раскладка ключей одной недели:
//   ranking:{week}:scores  ZSET  userID -> очки
//   ranking:{week}:info    HASH  userID -> JSON строки
//   ranking:{week}:built   STRING маркер полной сборки
//
// Пока маркера нет, неделя считается не закешированной: GetEntries отдаёт
// ErrRankingNotCached, а UpdateEntry ничего не пишет. Иначе частичный кеш
// выглядел бы как полный рейтинг.
// ══════════════════════════════════════════════════════════════════════════════

// cachedEntry is the JSON stored in the info hash.
type cachedEntry struct {
	UserID         string    `json:"user_id"`
	Handle         string    `json:"handle"`
	Score          int       `json:"score"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
}

func encodeEntry(e leaderboard.Entry) ([]byte, error) {
	data, err := json.Marshal(cachedEntry{
		UserID:         e.UserID.String(),
		Handle:         e.Handle.String(),
		Score:          e.Score,
		ScoreUpdatedAt: e.ScoreUpdatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

func decodeEntry(data string) (leaderboard.Entry, error) {
	var c cachedEntry
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return leaderboard.Entry{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return leaderboard.Entry{
		UserID:         shared.UserID(c.UserID),
		Handle:         shared.Handle(c.Handle),
		Score:          c.Score,
		ScoreUpdatedAt: c.ScoreUpdatedAt,
	}, nil
}

type weekKeys struct {
	scores string
	info   string
	built  string
}

func keysFor(w leaderboard.Week) weekKeys {
	base := PrefixRanking + w.ID()
	return weekKeys{
		scores: base + ":scores",
		info:   base + ":info",
		built:  base + ":built",
	}
}

// updateScript применяет строку, только если неделя собрана и новые очки
// строго больше сохранённых. Очки внутри недели только растут, поэтому
// запоздавшее событие не откатывает строку назад.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
  return 0
end
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// RankingCache implements leaderboard.Cache on Redis.
type RankingCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ leaderboard.Cache = (*RankingCache)(nil)

// NewRankingCache creates a cache on top of a client.
func NewRankingCache(c *Client) *RankingCache {
	return &RankingCache{rdb: c.Redis(), ttl: TTLRanking}
}

// UpdateEntry applies a newer score for one user. It is a no-op for weeks
// that were never built or were invalidated.
func (r *RankingCache) UpdateEntry(ctx context.Context, week leaderboard.Week, entry leaderboard.Entry) error {
	if entry.UserID == "" {
		return shared.ErrInvalidUserID
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	k := keysFor(week)
	err = updateScript.Run(ctx, r.rdb,
		[]string{k.scores, k.info, k.built},
		entry.UserID.String(), entry.Score, data,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to update ranking entry: %w", err)
	}
	return nil
}

// GetEntries returns the cached rows of a week, highest score first.
func (r *RankingCache) GetEntries(ctx context.Context, week leaderboard.Week) ([]leaderboard.Entry, error) {
	k := keysFor(week)

	built, err := r.rdb.Exists(ctx, k.built).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check ranking marker: %w", err)
	}
	if built == 0 {
		return nil, shared.ErrRankingNotCached
	}

	ids, err := r.rdb.ZRevRange(ctx, k.scores, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking scores: %w", err)
	}
	if len(ids) == 0 {
		return []leaderboard.Entry{}, nil
	}

	raw, err := r.rdb.HMGet(ctx, k.info, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking entries: %w", err)
	}

	entries := make([]leaderboard.Entry, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			// строка пропала между ZREVRANGE и HMGET - кешу нельзя доверять
			return nil, fmt.Errorf("%w: missing entry for %s", shared.ErrRankingNotCached, ids[i])
		}
		e, err := decodeEntry(s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Rebuild replaces the week atomically and sets the built marker.
func (r *RankingCache) Rebuild(ctx context.Context, ranking *leaderboard.Ranking) error {
	k := keysFor(ranking.Week())
	entries := ranking.Entries()

	members := make([]redis.Z, 0, len(entries))
	info := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		data, err := encodeEntry(e)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: float64(e.Score), Member: e.UserID.String()})
		info[e.UserID.String()] = data
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, k.scores, k.info, k.built)
	if len(members) > 0 {
		pipe.ZAdd(ctx, k.scores, members...)
		pipe.HSet(ctx, k.info, info)
		pipe.Expire(ctx, k.scores, r.ttl)
		pipe.Expire(ctx, k.info, r.ttl)
	}
	pipe.Set(ctx, k.built, strconv.FormatInt(time.Now().Unix(), 10), r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rebuild ranking cache: %w", err)
	}
	return nil
}

// Invalidate drops the week.
func (r *RankingCache) Invalidate(ctx context.Context, week leaderboard.Week) error {
	k := keysFor(week)
	if err := r.rdb.Del(ctx, k.built, k.scores, k.info).Err(); err != nil {
		return fmt.Errorf("failed to invalidate ranking cache: %w", err)
	}
	return nil
}
