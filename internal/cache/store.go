package cache

import (
	"sort"
	"sync"
)

// Store is the in-memory mirror of the chat feed. It has exactly one
// writer role: only the reconciler and the unread batcher call mutating
// methods. Readers receive copies and must treat them as immutable
// snapshots; nothing returned from a Store aliases its internal state.
type Store struct {
	mu        sync.RWMutex
	posts     map[string]*Post
	channels  map[string]*Channel
	reactions map[string][]Reaction // keyed by post id
	presence  map[string]Presence   // keyed by user id
	unreads   map[string]UnreadCount
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		posts:     make(map[string]*Post),
		channels:  make(map[string]*Channel),
		reactions: make(map[string][]Reaction),
		presence:  make(map[string]Presence),
		unreads:   make(map[string]UnreadCount),
	}
}

// UpsertPost inserts or updates a post keyed by ID. A duplicate delivery
// (same ID and UpdatedAt) is a no-op; the feed is at-least-once so this
// happens routinely. Enriched fields already present on the stored post
// survive a base update that does not carry them. Reports whether the
// store changed.
func (s *Store) UpsertPost(post Post) bool {
	if post.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.posts[post.ID]
	if ok && existing.UpdatedAt == post.UpdatedAt {
		return false
	}

	stored := post
	stored.Attachments = copyAttachments(post.Attachments)

	if ok {
		// Base events carry no enrichment; keep what we already resolved.
		if stored.AuthorName == "" {
			stored.AuthorName = existing.AuthorName
		}
		if len(stored.Attachments) == 0 {
			stored.Attachments = existing.Attachments
		}
	}

	s.posts[post.ID] = &stored
	return true
}

// ApplyEnrichment fills resolved fields on a post. It only ever fills
// fields the stored post left absent: a chronologically later base event
// wins over a slow enrichment result. Reports whether anything changed.
func (s *Store) ApplyEnrichment(postID, authorName string, attachments []AttachmentRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return false
	}

	changed := false
	if authorName != "" && post.AuthorName == "" {
		post.AuthorName = authorName
		changed = true
	}
	if len(attachments) > 0 && len(post.Attachments) == 0 {
		post.Attachments = copyAttachments(attachments)
		changed = true
	}

	return changed
}

// DeletePost removes a post and its reactions
func (s *Store) DeletePost(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[postID]; !ok {
		return false
	}

	delete(s.posts, postID)
	delete(s.reactions, postID)
	return true
}

// GetPost returns a copy of a post
func (s *Store) GetPost(postID string) (Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[postID]
	if !ok {
		return Post{}, false
	}
	return copyPost(post), true
}

// PostsInChannel returns copies of a channel's posts, oldest first
func (s *Store) PostsInChannel(channelID string) []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var posts []Post
	for _, post := range s.posts {
		if post.ChannelID == channelID {
			posts = append(posts, copyPost(post))
		}
	}

	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt < posts[j].CreatedAt
		}
		return posts[i].ID < posts[j].ID
	})

	return posts
}

// UpsertChannel inserts or updates a channel
func (s *Store) UpsertChannel(channel Channel) {
	if channel.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := channel
	s.channels[channel.ID] = &stored
}

// RemoveChannel deletes a channel along with its posts, reactions and
// unread counter. This is the only path that proactively deletes cache
// entries.
func (s *Store) RemoveChannel(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[channelID]; !ok {
		return false
	}

	delete(s.channels, channelID)
	delete(s.unreads, channelID)

	for id, post := range s.posts {
		if post.ChannelID == channelID {
			delete(s.posts, id)
			delete(s.reactions, id)
		}
	}

	return true
}

// GetChannel returns a copy of a channel
func (s *Store) GetChannel(channelID string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channel, ok := s.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return *channel, true
}

// Channels returns copies of all channels sorted by name
func (s *Store) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]Channel, 0, len(s.channels))
	for _, channel := range s.channels {
		channels = append(channels, *channel)
	}

	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})

	return channels
}

// AddReaction records a reaction, deduplicated by (post, user, emoji).
// Reports whether the reaction was new.
func (s *Store) AddReaction(reaction Reaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reactions[reaction.PostID] {
		if existing.UserID == reaction.UserID && existing.Emoji == reaction.Emoji {
			return false
		}
	}

	s.reactions[reaction.PostID] = append(s.reactions[reaction.PostID], reaction)
	return true
}

// RemoveReaction removes a reaction. Reports whether it was present.
func (s *Store) RemoveReaction(postID, userID, emoji string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	reactions := s.reactions[postID]
	for i, existing := range reactions {
		if existing.UserID == userID && existing.Emoji == emoji {
			s.reactions[postID] = append(reactions[:i], reactions[i+1:]...)
			if len(s.reactions[postID]) == 0 {
				delete(s.reactions, postID)
			}
			return true
		}
	}
	return false
}

// Reactions returns copies of a post's reactions
func (s *Store) Reactions(postID string) []Reaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reactions := s.reactions[postID]
	if len(reactions) == 0 {
		return nil
	}

	out := make([]Reaction, len(reactions))
	copy(out, reactions)
	return out
}

// SetPresence records a user's availability
func (s *Store) SetPresence(userID string, status Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = status
}

// GetPresence returns a user's availability, defaulting to offline
func (s *Store) GetPresence(userID string) Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status, ok := s.presence[userID]; ok {
		return status
	}
	return PresenceOffline
}

// SetUnreads merges a bulk unread refresh into the store
func (s *Store) SetUnreads(counts map[string]UnreadCount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for channelID, count := range counts {
		count.ChannelID = channelID
		s.unreads[channelID] = count
	}
}

// IncrementUnread bumps a channel's unread counter for a new post
func (s *Store) IncrementUnread(channelID string, mention bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.unreads[channelID]
	count.ChannelID = channelID
	count.Messages++
	if mention {
		count.Mentions++
	}
	s.unreads[channelID] = count
}

// ClearUnread zeroes a channel's unread counter. Views from any of the
// user's sessions clear it, not just this client's own views.
func (s *Store) ClearUnread(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unreads, channelID)
}

// Unreads returns a copy of all non-zero unread counters
func (s *Store) Unreads() map[string]UnreadCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]UnreadCount, len(s.unreads))
	for channelID, count := range s.unreads {
		out[channelID] = count
	}
	return out
}

func copyPost(post *Post) Post {
	out := *post
	out.Attachments = copyAttachments(post.Attachments)
	return out
}

func copyAttachments(attachments []AttachmentRef) []AttachmentRef {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]AttachmentRef, len(attachments))
	copy(out, attachments)
	return out
}
