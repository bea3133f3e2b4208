package voice

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordRoster resolves user names and channel occupancy through a
// discordgo session, with a short TTL cache in front of REST lookups.
type DiscordRoster struct {
	s  *discordgo.Session
	mu sync.Mutex

	userNames map[string]nameEntry
	bots      map[string]botEntry
}

type nameEntry struct {
	val    string
	expiry time.Time
}

type botEntry struct {
	bot    bool
	expiry time.Time
}

var rosterCacheTTL = 5 * time.Minute

// NewDiscordRoster wraps a discordgo session.
func NewDiscordRoster(s *discordgo.Session) *DiscordRoster {
	return &DiscordRoster{
		s:         s,
		userNames: make(map[string]nameEntry),
		bots:      make(map[string]botEntry),
	}
}

// UserName resolves a display name for logs; empty when unresolvable.
func (d *DiscordRoster) UserName(userID string) string {
	if d.s == nil || userID == "" {
		return ""
	}
	d.mu.Lock()
	if e, ok := d.userNames[userID]; ok && time.Now().Before(e.expiry) {
		d.mu.Unlock()
		return e.val
	}
	d.mu.Unlock()
	u, err := d.s.User(userID)
	if err != nil || u == nil {
		return ""
	}
	d.mu.Lock()
	d.userNames[userID] = nameEntry{val: u.Username, expiry: time.Now().Add(rosterCacheTTL)}
	d.bots[userID] = botEntry{bot: u.Bot, expiry: time.Now().Add(rosterCacheTTL)}
	d.mu.Unlock()
	return u.Username
}

// IsBot reports whether the user is a bot account. Unknown users count as
// human so the idle policy never leaves a channel on a failed lookup.
func (d *DiscordRoster) IsBot(userID string) bool {
	if d.s == nil || userID == "" {
		return false
	}
	d.mu.Lock()
	if e, ok := d.bots[userID]; ok && time.Now().Before(e.expiry) {
		d.mu.Unlock()
		return e.bot
	}
	d.mu.Unlock()
	u, err := d.s.User(userID)
	if err != nil || u == nil {
		return false
	}
	d.mu.Lock()
	d.bots[userID] = botEntry{bot: u.Bot, expiry: time.Now().Add(rosterCacheTTL)}
	d.userNames[userID] = nameEntry{val: u.Username, expiry: time.Now().Add(rosterCacheTTL)}
	d.mu.Unlock()
	return u.Bot
}

// HumanCount counts non-bot participants currently in the voice channel,
// from gateway state.
func (d *DiscordRoster) HumanCount(roomID, channelID string) int {
	if d.s == nil || d.s.State == nil {
		return 0
	}
	g, err := d.s.State.Guild(roomID)
	if err != nil || g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if d.IsBot(vs.UserID) {
			continue
		}
		n++
	}
	return n
}
