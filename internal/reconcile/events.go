package reconcile

import "github.com/tannerhall/briefd/internal/cache"

// EventType identifies a normalized UI-facing event
type EventType string

const (
	EventPostCreated     EventType = "post-created"
	EventPostEdited      EventType = "post-edited"
	EventPostEnriched    EventType = "post-enriched"
	EventPostDeleted     EventType = "post-deleted"
	EventReactionAdded   EventType = "reaction-added"
	EventReactionRemoved EventType = "reaction-removed"
	EventTyping          EventType = "typing"
	EventPresenceChanged EventType = "presence-changed"
	EventChannelViewed   EventType = "channel-viewed"
	EventChannelCreated  EventType = "channel-created"
	EventChannelUpdated  EventType = "channel-updated"
	EventChannelRemoved  EventType = "channel-removed"
)

// Event is one normalized update delivered to the UI sink. Post and
// Reaction are copies; consumers may hold them without worrying about
// the cache mutating underneath.
type Event struct {
	Type      EventType
	ChannelID string
	Post      *cache.Post
	Reaction  *cache.Reaction
	UserID    string
	Presence  cache.Presence
	Mention   bool
}
