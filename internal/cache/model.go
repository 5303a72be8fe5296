package cache

// AttachmentRef points at a file attached to a post. Resolution of the
// full metadata happens asynchronously after the post itself has landed.
type AttachmentRef struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// Post is one chat message, keyed by ID with upsert semantics.
// Timestamps are wall-clock milliseconds since epoch as sent by the feed.
type Post struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string // filled by enrichment, may lag behind the post
	Text        string
	RootID      string // thread root, empty for top-level posts
	CreatedAt   int64
	UpdatedAt   int64
	Pinned      bool
	Attachments []AttachmentRef
}

// Channel is one chat channel
type Channel struct {
	ID           string
	Name         string
	DisplayName  string
	LastViewedAt int64
}

// Reaction is one emoji reaction on a post
type Reaction struct {
	PostID    string
	UserID    string
	Emoji     string
	CreatedAt int64
}

// UnreadCount tracks unread messages and mentions for a channel
type UnreadCount struct {
	ChannelID string
	Messages  int
	Mentions  int
}

// Presence is a user's availability status
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceDND     Presence = "dnd"
	PresenceOffline Presence = "offline"
)
