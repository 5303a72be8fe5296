package reconcile

import (
	"context"
	"sync"

	"github.com/tannerhall/briefd/internal/cache"
	"github.com/tannerhall/briefd/internal/config"
	"github.com/tannerhall/briefd/internal/ops"
	"github.com/tannerhall/briefd/internal/stream"
)

// MentionFunc reports whether a post mentions the current user. The
// notification trigger supplies it; the reconciler uses it only to count
// mention unreads.
type MentionFunc func(post cache.Post) bool

// Reconciler turns raw push frames into cache updates and normalized UI
// events. It is the single writer of the entity cache (alongside the
// unread batcher) and the only place wire payloads are decoded.
type Reconciler struct {
	store    *cache.Store
	resolver Resolver
	identity config.Identity
	mention  MentionFunc
	logger   *ops.Logger

	events chan Event

	ctx      context.Context
	cancel   context.CancelFunc
	enrichWG sync.WaitGroup

	mu            sync.Mutex
	activeChannel string
}

// New creates a reconciler. resolver may be nil, in which case posts are
// never enriched. mention may be nil, in which case no unread counts as
// a mention.
func New(store *cache.Store, resolver Resolver, identity config.Identity, mention MentionFunc, sinkBuffer int, logger *ops.Logger) *Reconciler {
	if sinkBuffer <= 0 {
		sinkBuffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reconciler{
		store:    store,
		resolver: resolver,
		identity: identity,
		mention:  mention,
		logger:   logger.WithComponent("reconcile"),
		events:   make(chan Event, sinkBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Events returns the normalized event sink consumed by the UI layer
func (r *Reconciler) Events() <-chan Event {
	return r.events
}

// Attach subscribes the reconciler to every frame the manager dispatches.
// Returns the unsubscribe function.
func (r *Reconciler) Attach(m *stream.Manager) func() {
	_, unsubscribe := m.Subscribe(stream.KindAny, r.HandleFrame)
	return unsubscribe
}

// SetActiveChannel marks the channel the user is currently looking at;
// its posts do not accumulate unreads.
func (r *Reconciler) SetActiveChannel(channelID string) {
	r.mu.Lock()
	r.activeChannel = channelID
	r.mu.Unlock()
}

func (r *Reconciler) isActiveChannel(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeChannel == channelID
}

// Close stops enrichment and waits for in-flight tasks. The event
// channel is left open; it simply goes quiet.
func (r *Reconciler) Close() {
	r.cancel()
	r.enrichWG.Wait()
}

// HandleFrame reconciles one raw frame. Malformed frames are logged and
// dropped; they never propagate to the dispatcher.
func (r *Reconciler) HandleFrame(frame stream.Frame) {
	env, err := ParseEnvelope(frame.Raw)
	if err != nil {
		r.logger.LogFrameDropped(frame.Kind, err)
		return
	}

	switch env.Event {
	case KindPostCreated:
		r.handlePostCreated(env)
	case KindPostEdited:
		r.handlePostEdited(env)
	case KindPostDeleted:
		r.handlePostDeleted(env)
	case KindReactionAdded:
		r.handleReactionAdded(env)
	case KindReactionRemoved:
		r.handleReactionRemoved(env)
	case KindTyping:
		r.handleTyping(env)
	case KindPresenceChanged:
		r.handlePresenceChanged(env)
	case KindChannelViewed:
		r.handleChannelViewed(env)
	case KindChannelCreated, KindChannelUpdated:
		r.handleChannelUpserted(env)
	case KindChannelRemoved:
		r.handleChannelRemoved(env)
	default:
		r.logger.Debug("ignoring unknown event kind", "kind", env.Event)
	}
}

func (r *Reconciler) handlePostCreated(env *Envelope) {
	payload, err := decodePost(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	post := payload.toPost()
	if !r.store.UpsertPost(post) {
		// At-least-once delivery; this exact post already landed
		return
	}

	mention := r.mention != nil && r.mention(post)
	if post.AuthorID != r.identity.UserID && !r.isActiveChannel(post.ChannelID) {
		r.store.IncrementUnread(post.ChannelID, mention)
	}

	stored, _ := r.store.GetPost(post.ID)
	r.emit(Event{
		Type:      EventPostCreated,
		ChannelID: post.ChannelID,
		Post:      &stored,
		Mention:   mention,
	})

	r.spawnEnrichment(post.ID, post.AuthorID, payload.FileIDs)
}

func (r *Reconciler) handlePostEdited(env *Envelope) {
	payload, err := decodePost(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	post := payload.toPost()
	if !r.store.UpsertPost(post) {
		return
	}

	stored, _ := r.store.GetPost(post.ID)
	r.emit(Event{
		Type:      EventPostEdited,
		ChannelID: post.ChannelID,
		Post:      &stored,
	})

	r.spawnEnrichment(post.ID, post.AuthorID, payload.FileIDs)
}

func (r *Reconciler) handlePostDeleted(env *Envelope) {
	payload, err := decodeDelete(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	if !r.store.DeletePost(payload.ID) {
		return
	}

	r.emit(Event{
		Type:      EventPostDeleted,
		ChannelID: payload.ChannelID,
		Post:      &cache.Post{ID: payload.ID, ChannelID: payload.ChannelID},
	})
}

func (r *Reconciler) handleReactionAdded(env *Envelope) {
	payload, err := decodeReaction(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	reaction := cache.Reaction{
		PostID:    payload.PostID,
		UserID:    payload.UserID,
		Emoji:     payload.EmojiName,
		CreatedAt: payload.CreateAt,
	}
	if !r.store.AddReaction(reaction) {
		return
	}

	r.emit(Event{
		Type:      EventReactionAdded,
		ChannelID: env.Broadcast.ChannelID,
		Reaction:  &reaction,
	})
}

func (r *Reconciler) handleReactionRemoved(env *Envelope) {
	payload, err := decodeReaction(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	if !r.store.RemoveReaction(payload.PostID, payload.UserID, payload.EmojiName) {
		return
	}

	r.emit(Event{
		Type:      EventReactionRemoved,
		ChannelID: env.Broadcast.ChannelID,
		Reaction: &cache.Reaction{
			PostID: payload.PostID,
			UserID: payload.UserID,
			Emoji:  payload.EmojiName,
		},
	})
}

func (r *Reconciler) handleTyping(env *Envelope) {
	payload, err := decodeTyping(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	// Transient; nothing cached
	r.emit(Event{
		Type:      EventTyping,
		ChannelID: payload.ChannelID,
		UserID:    payload.UserID,
	})
}

func (r *Reconciler) handlePresenceChanged(env *Envelope) {
	payload, err := decodePresence(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	status := cache.Presence(payload.Status)
	r.store.SetPresence(payload.UserID, status)

	r.emit(Event{
		Type:     EventPresenceChanged,
		UserID:   payload.UserID,
		Presence: status,
	})
}

func (r *Reconciler) handleChannelViewed(env *Envelope) {
	payload, err := decodeViewed(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	// Any of the user's sessions viewing the channel clears the counter
	r.store.ClearUnread(payload.ChannelID)
	if env.ServerAt > 0 {
		if channel, ok := r.store.GetChannel(payload.ChannelID); ok {
			channel.LastViewedAt = env.ServerAt
			r.store.UpsertChannel(channel)
		}
	}

	r.emit(Event{
		Type:      EventChannelViewed,
		ChannelID: payload.ChannelID,
	})
}

func (r *Reconciler) handleChannelUpserted(env *Envelope) {
	payload, err := decodeChannel(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	channel := cache.Channel{
		ID:           payload.ID,
		Name:         payload.Name,
		DisplayName:  payload.DisplayName,
		LastViewedAt: payload.LastViewedAt,
	}
	if existing, ok := r.store.GetChannel(payload.ID); ok {
		if channel.LastViewedAt == 0 {
			channel.LastViewedAt = existing.LastViewedAt
		}
	}
	r.store.UpsertChannel(channel)

	eventType := EventChannelCreated
	if env.Event == KindChannelUpdated {
		eventType = EventChannelUpdated
	}
	r.emit(Event{
		Type:      eventType,
		ChannelID: channel.ID,
	})
}

func (r *Reconciler) handleChannelRemoved(env *Envelope) {
	payload, err := decodeChannel(env)
	if err != nil {
		r.logger.LogFrameDropped(env.Event, err)
		return
	}

	if !r.store.RemoveChannel(payload.ID) {
		return
	}

	r.emit(Event{
		Type:      EventChannelRemoved,
		ChannelID: payload.ID,
	})
}

// emit hands an event to the UI sink without ever blocking the dispatch
// path. A full sink drops the event and logs it.
func (r *Reconciler) emit(event Event) {
	select {
	case r.events <- event:
	default:
		r.logger.Warn("event sink full, dropping event",
			"type", string(event.Type),
			"channel_id", event.ChannelID)
	}
}
