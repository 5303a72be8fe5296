package cache

import "testing"

func TestUpsertPost_DuplicateIsNoOp(t *testing.T) {
	store := NewStore()

	post := Post{
		ID:        "p1",
		ChannelID: "c1",
		AuthorID:  "u1",
		Text:      "hello",
		CreatedAt: 100,
		UpdatedAt: 100,
	}

	if !store.UpsertPost(post) {
		t.Fatal("first upsert should report a change")
	}
	if store.UpsertPost(post) {
		t.Error("identical upsert should be a no-op")
	}

	posts := store.PostsInChannel("c1")
	if len(posts) != 1 {
		t.Fatalf("expected exactly 1 post, got %d", len(posts))
	}
}

func TestUpsertPost_EditReplacesBaseFields(t *testing.T) {
	store := NewStore()

	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", Text: "first", UpdatedAt: 100})
	if !store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", Text: "edited", UpdatedAt: 200}) {
		t.Fatal("edit with newer UpdatedAt should apply")
	}

	post, ok := store.GetPost("p1")
	if !ok {
		t.Fatal("post not found")
	}
	if post.Text != "edited" {
		t.Errorf("expected edited text, got %q", post.Text)
	}
}

func TestUpsertPost_EditPreservesEnrichedFields(t *testing.T) {
	store := NewStore()

	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", Text: "first", UpdatedAt: 100})
	store.ApplyEnrichment("p1", "Alice", []AttachmentRef{{ID: "f1", Name: "a.txt"}})

	// A base edit carries no enrichment fields
	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", Text: "edited", UpdatedAt: 200})

	post, _ := store.GetPost("p1")
	if post.AuthorName != "Alice" {
		t.Errorf("enriched author name lost on edit: %q", post.AuthorName)
	}
	if len(post.Attachments) != 1 {
		t.Errorf("enriched attachments lost on edit: %v", post.Attachments)
	}
}

func TestApplyEnrichment_FillsOnlyAbsentFields(t *testing.T) {
	store := NewStore()

	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", Text: "hello", UpdatedAt: 100})

	if !store.ApplyEnrichment("p1", "Alice", nil) {
		t.Fatal("first enrichment should apply")
	}

	// A slow second enrichment must not overwrite the resolved name
	if store.ApplyEnrichment("p1", "Bob", nil) {
		t.Error("enrichment must not overwrite an already-set author name")
	}

	post, _ := store.GetPost("p1")
	if post.AuthorName != "Alice" {
		t.Errorf("expected Alice, got %q", post.AuthorName)
	}
}

func TestApplyEnrichment_MissingPost(t *testing.T) {
	store := NewStore()

	if store.ApplyEnrichment("nope", "Alice", nil) {
		t.Error("enriching a missing post should report no change")
	}
}

func TestGetPost_CopyOnRead(t *testing.T) {
	store := NewStore()

	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", UpdatedAt: 100})
	store.ApplyEnrichment("p1", "Alice", []AttachmentRef{{ID: "f1", Name: "a.txt"}})

	post, _ := store.GetPost("p1")
	post.AuthorName = "Mallory"
	post.Attachments[0].Name = "evil.txt"

	fresh, _ := store.GetPost("p1")
	if fresh.AuthorName != "Alice" {
		t.Error("mutating a returned post must not affect the store")
	}
	if fresh.Attachments[0].Name != "a.txt" {
		t.Error("mutating returned attachments must not affect the store")
	}
}

func TestDeletePost(t *testing.T) {
	store := NewStore()

	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", UpdatedAt: 100})
	store.AddReaction(Reaction{PostID: "p1", UserID: "u2", Emoji: "+1"})

	if !store.DeletePost("p1") {
		t.Fatal("delete should report success")
	}
	if store.DeletePost("p1") {
		t.Error("second delete should report no change")
	}
	if got := store.Reactions("p1"); got != nil {
		t.Errorf("reactions should be gone with the post, got %v", got)
	}
}

func TestReactions_DedupAndRemove(t *testing.T) {
	store := NewStore()

	reaction := Reaction{PostID: "p1", UserID: "u1", Emoji: "+1", CreatedAt: 100}
	if !store.AddReaction(reaction) {
		t.Fatal("first reaction should be new")
	}
	if store.AddReaction(reaction) {
		t.Error("duplicate reaction should be deduplicated")
	}

	store.AddReaction(Reaction{PostID: "p1", UserID: "u1", Emoji: "eyes"})
	if len(store.Reactions("p1")) != 2 {
		t.Fatalf("expected 2 reactions, got %d", len(store.Reactions("p1")))
	}

	if !store.RemoveReaction("p1", "u1", "+1") {
		t.Fatal("remove should report success")
	}
	if store.RemoveReaction("p1", "u1", "+1") {
		t.Error("second remove should report no change")
	}
	if len(store.Reactions("p1")) != 1 {
		t.Errorf("expected 1 reaction left, got %d", len(store.Reactions("p1")))
	}
}

func TestRemoveChannel_Cascades(t *testing.T) {
	store := NewStore()

	store.UpsertChannel(Channel{ID: "c1", Name: "general"})
	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", UpdatedAt: 100})
	store.UpsertPost(Post{ID: "p2", ChannelID: "c2", AuthorID: "u1", UpdatedAt: 100})
	store.AddReaction(Reaction{PostID: "p1", UserID: "u2", Emoji: "+1"})
	store.IncrementUnread("c1", false)

	if !store.RemoveChannel("c1") {
		t.Fatal("remove should report success")
	}

	if _, ok := store.GetPost("p1"); ok {
		t.Error("channel posts should be removed with the channel")
	}
	if _, ok := store.GetPost("p2"); !ok {
		t.Error("other channels' posts must survive")
	}
	if len(store.Unreads()) != 0 {
		t.Error("unread counter should be removed with the channel")
	}
}

func TestUnreadCounters(t *testing.T) {
	store := NewStore()

	store.IncrementUnread("c1", false)
	store.IncrementUnread("c1", true)
	store.IncrementUnread("c2", false)

	unreads := store.Unreads()
	if unreads["c1"].Messages != 2 || unreads["c1"].Mentions != 1 {
		t.Errorf("unexpected c1 counter: %+v", unreads["c1"])
	}

	store.ClearUnread("c1")
	unreads = store.Unreads()
	if _, ok := unreads["c1"]; ok {
		t.Error("cleared channel should have no counter")
	}
	if unreads["c2"].Messages != 1 {
		t.Error("clearing one channel must not touch others")
	}
}

func TestSetUnreads_BulkMerge(t *testing.T) {
	store := NewStore()

	store.SetUnreads(map[string]UnreadCount{
		"c1": {Messages: 4, Mentions: 1},
		"c2": {Messages: 2},
	})

	unreads := store.Unreads()
	if len(unreads) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(unreads))
	}
	if unreads["c1"].ChannelID != "c1" {
		t.Error("bulk merge should key counters by channel id")
	}
}

func TestPresence(t *testing.T) {
	store := NewStore()

	if store.GetPresence("u1") != PresenceOffline {
		t.Error("unknown user should default to offline")
	}

	store.SetPresence("u1", PresenceAway)
	if store.GetPresence("u1") != PresenceAway {
		t.Error("presence update not applied")
	}
}

func TestPostsInChannel_SortedByCreatedAt(t *testing.T) {
	store := NewStore()

	store.UpsertPost(Post{ID: "p2", ChannelID: "c1", AuthorID: "u1", CreatedAt: 200, UpdatedAt: 200})
	store.UpsertPost(Post{ID: "p1", ChannelID: "c1", AuthorID: "u1", CreatedAt: 100, UpdatedAt: 100})
	store.UpsertPost(Post{ID: "p3", ChannelID: "c2", AuthorID: "u1", CreatedAt: 50, UpdatedAt: 50})

	posts := store.PostsInChannel("c1")
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].ID != "p1" || posts[1].ID != "p2" {
		t.Errorf("posts not sorted oldest first: %s, %s", posts[0].ID, posts[1].ID)
	}
}
