package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/tannerhall/briefd/internal/cache"
)

// Wire event kinds carried in the envelope's kind tag
const (
	KindPostCreated     = "post_created"
	KindPostEdited      = "post_edited"
	KindPostDeleted     = "post_deleted"
	KindReactionAdded   = "reaction_added"
	KindReactionRemoved = "reaction_removed"
	KindTyping          = "typing"
	KindPresenceChanged = "presence_changed"
	KindChannelViewed   = "channel_viewed"
	KindChannelCreated  = "channel_created"
	KindChannelUpdated  = "channel_updated"
	KindChannelRemoved  = "channel_removed"
)

// Envelope is the outer wrapper of a push frame. Data stays opaque until
// the kind-specific decoder validates and reads it.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Broadcast Broadcast       `json:"broadcast"`
	ServerAt  int64           `json:"server_at"`
}

// Broadcast identifies the channel a frame was broadcast to
type Broadcast struct {
	ChannelID string `json:"channel_id"`
}

// ParseEnvelope decodes the outer envelope of a raw frame
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event kind")
	}
	return &env, nil
}

// postPayload is the wire shape of post_created / post_edited data
type postPayload struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	UserID    string   `json:"user_id"`
	Message   string   `json:"message"`
	CreateAt  int64    `json:"create_at"`
	UpdateAt  int64    `json:"update_at"`
	RootID    string   `json:"root_id"`
	IsPinned  bool     `json:"is_pinned"`
	FileIDs   []string `json:"file_ids"`
}

func decodePost(env *Envelope) (*postPayload, error) {
	var payload postPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode post payload: %w", err)
	}

	if payload.ID == "" {
		return nil, fmt.Errorf("post payload missing id")
	}
	if payload.ChannelID == "" {
		payload.ChannelID = env.Broadcast.ChannelID
	}
	if payload.ChannelID == "" {
		return nil, fmt.Errorf("post %s missing channel id", payload.ID)
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("post %s missing author id", payload.ID)
	}
	if payload.UpdateAt == 0 {
		payload.UpdateAt = payload.CreateAt
	}

	return &payload, nil
}

func (p *postPayload) toPost() cache.Post {
	return cache.Post{
		ID:        p.ID,
		ChannelID: p.ChannelID,
		AuthorID:  p.UserID,
		Text:      p.Message,
		RootID:    p.RootID,
		CreatedAt: p.CreateAt,
		UpdatedAt: p.UpdateAt,
		Pinned:    p.IsPinned,
	}
}

// deletePayload is the wire shape of post_deleted data
type deletePayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func decodeDelete(env *Envelope) (*deletePayload, error) {
	var payload deletePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode delete payload: %w", err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("delete payload missing post id")
	}
	if payload.ChannelID == "" {
		payload.ChannelID = env.Broadcast.ChannelID
	}
	return &payload, nil
}

// reactionPayload is the wire shape of reaction_added / reaction_removed
type reactionPayload struct {
	PostID    string `json:"post_id"`
	UserID    string `json:"user_id"`
	EmojiName string `json:"emoji_name"`
	CreateAt  int64  `json:"create_at"`
}

func decodeReaction(env *Envelope) (*reactionPayload, error) {
	var payload reactionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode reaction payload: %w", err)
	}
	if payload.PostID == "" {
		return nil, fmt.Errorf("reaction payload missing post id")
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("reaction payload missing user id")
	}
	if payload.EmojiName == "" {
		return nil, fmt.Errorf("reaction payload missing emoji name")
	}
	return &payload, nil
}

// typingPayload is the wire shape of typing data
type typingPayload struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

func decodeTyping(env *Envelope) (*typingPayload, error) {
	var payload typingPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode typing payload: %w", err)
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("typing payload missing user id")
	}
	if payload.ChannelID == "" {
		payload.ChannelID = env.Broadcast.ChannelID
	}
	if payload.ChannelID == "" {
		return nil, fmt.Errorf("typing payload missing channel id")
	}
	return &payload, nil
}

// presencePayload is the wire shape of presence_changed data
type presencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func decodePresence(env *Envelope) (*presencePayload, error) {
	var payload presencePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode presence payload: %w", err)
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("presence payload missing user id")
	}

	switch cache.Presence(payload.Status) {
	case cache.PresenceOnline, cache.PresenceAway, cache.PresenceDND, cache.PresenceOffline:
	default:
		return nil, fmt.Errorf("presence payload has unknown status %q", payload.Status)
	}

	return &payload, nil
}

// viewedPayload is the wire shape of channel_viewed data
type viewedPayload struct {
	ChannelID string `json:"channel_id"`
}

func decodeViewed(env *Envelope) (*viewedPayload, error) {
	var payload viewedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode channel_viewed payload: %w", err)
	}
	if payload.ChannelID == "" {
		payload.ChannelID = env.Broadcast.ChannelID
	}
	if payload.ChannelID == "" {
		return nil, fmt.Errorf("channel_viewed payload missing channel id")
	}
	return &payload, nil
}

// channelPayload is the wire shape of channel_created / channel_updated /
// channel_removed data
type channelPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	LastViewedAt int64  `json:"last_viewed_at"`
}

func decodeChannel(env *Envelope) (*channelPayload, error) {
	var payload channelPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode channel payload: %w", err)
	}
	if payload.ID == "" {
		payload.ID = env.Broadcast.ChannelID
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("channel payload missing id")
	}
	return &payload, nil
}
