// Package middleware enforces per-user rate limits, per-command limits,
// and repeated-message spam detection. Counters live in an in-memory
// bigcache instance so the hot path never touches the database.
package middleware

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/allegro/bigcache/v3"
)

const (
	rateKeyFmt      = "rate:%d"
	commandKeyFmt   = "cmd:%d:%s"
	recentKeyFmt    = "recent:%d"
	violationKeyFmt = "viol:%d"
	banKeyFmt       = "ban:%d"

	// A streak of identical messages inside spamWindow is a violation.
	spamStreak = 3
	spamWindow = 5 * time.Minute

	warnDuration = 5 * time.Minute
	banDuration  = time.Hour

	// The first banThreshold violations are soft blocks; the next one
	// escalates to the full ban.
	banThreshold = 3
)

// Verdict is the outcome of a spam check.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictWarn
	VerdictBan
)

// Config tunes the guard windows. Zero values fall back to the
// reference limits.
type Config struct {
	UserLimit     int
	UserWindow    time.Duration
	CommandLimit  int
	CommandWindow time.Duration
}

func (c *Config) normalize() {
	if c.UserLimit <= 0 {
		c.UserLimit = 10
	}
	if c.UserWindow <= 0 {
		c.UserWindow = time.Minute
	}
	if c.CommandLimit <= 0 {
		c.CommandLimit = 5
	}
	if c.CommandWindow <= 0 {
		c.CommandWindow = time.Minute
	}
}

// Guard holds all throttling state for the bot.
type Guard struct {
	cache *bigcache.BigCache
	cfg   Config
	clock func() time.Time
}

func NewGuard(cfg Config) (*Guard, error) {
	cfg.normalize()
	// Entries carry their own window start, the cache TTL only has to
	// outlive the longest block.
	cache, err := bigcache.NewBigCache(bigcache.DefaultConfig(banDuration + time.Minute))
	if err != nil {
		return nil, fmt.Errorf("init guard cache: %w", err)
	}
	return &Guard{cache: cache, cfg: cfg, clock: time.Now}, nil
}

// AllowUser counts one request against the global per-user window.
func (g *Guard) AllowUser(userID int64) bool {
	count := g.bump(fmt.Sprintf(rateKeyFmt, userID), g.cfg.UserWindow)
	return count <= g.cfg.UserLimit
}

// AllowCommand counts one invocation of a specific command.
func (g *Guard) AllowCommand(userID int64, command string) bool {
	count := g.bump(fmt.Sprintf(commandKeyFmt, userID, command), g.cfg.CommandWindow)
	return count <= g.cfg.CommandLimit
}

// bump increments a windowed counter, restarting it when the window has
// elapsed, and returns the new count.
func (g *Guard) bump(key string, window time.Duration) int {
	now := g.clock()
	count := 1
	start := now
	if raw, err := g.cache.Get(key); err == nil && len(raw) == 16 {
		prev := int(binary.BigEndian.Uint64(raw[:8]))
		prevStart := time.Unix(0, int64(binary.BigEndian.Uint64(raw[8:])))
		if now.Sub(prevStart) < window {
			count = prev + 1
			start = prevStart
		}
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(count))
	binary.BigEndian.PutUint64(buf[8:], uint64(start.UnixNano()))
	_ = g.cache.Set(key, buf)
	return count
}

type recentEntry struct {
	Hash uint64 `json:"h"`
	At   int64  `json:"t"`
}

type banEntry struct {
	Until int64 `json:"u"`
	Hard  bool  `json:"b"`
}

// CheckMessage records one text message and reports whether the user
// crossed the spam line. The returned duration is how long the user is
// blocked when the verdict is not OK.
func (g *Guard) CheckMessage(userID int64, text string) (Verdict, time.Duration) {
	now := g.clock()
	key := fmt.Sprintf(recentKeyFmt, userID)

	var recent []recentEntry
	if raw, err := g.cache.Get(key); err == nil {
		_ = json.Unmarshal(raw, &recent)
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	recent = append(recent, recentEntry{Hash: h.Sum64(), At: now.UnixNano()})

	// Keep only the trailing streak-sized window of fresh entries.
	fresh := recent[:0]
	for _, e := range recent {
		if now.Sub(time.Unix(0, e.At)) < spamWindow {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) > spamStreak {
		fresh = fresh[len(fresh)-spamStreak:]
	}

	identical := len(fresh) == spamStreak
	for _, e := range fresh {
		if e.Hash != fresh[0].Hash {
			identical = false
		}
	}
	if !identical {
		if raw, err := json.Marshal(fresh); err == nil {
			_ = g.cache.Set(key, raw)
		}
		return VerdictOK, 0
	}

	// The streak resets after a violation so the next identical message
	// does not immediately trigger again.
	g.cache.Delete(key)
	violations := g.bump(fmt.Sprintf(violationKeyFmt, userID), banDuration)

	verdict := VerdictWarn
	blockFor := warnDuration
	if violations > banThreshold {
		verdict = VerdictBan
		blockFor = banDuration
	}
	ban := banEntry{Until: now.Add(blockFor).UnixNano(), Hard: verdict == VerdictBan}
	if raw, err := json.Marshal(ban); err == nil {
		_ = g.cache.Set(fmt.Sprintf(banKeyFmt, userID), raw)
	}
	return verdict, blockFor
}

// BanRemaining reports whether the user is currently blocked and for
// how much longer.
func (g *Guard) BanRemaining(userID int64) (time.Duration, bool) {
	raw, err := g.cache.Get(fmt.Sprintf(banKeyFmt, userID))
	if err != nil {
		return 0, false
	}
	var ban banEntry
	if json.Unmarshal(raw, &ban) != nil {
		return 0, false
	}
	left := time.Unix(0, ban.Until).Sub(g.clock())
	if left <= 0 {
		return 0, false
	}
	return left, true
}
