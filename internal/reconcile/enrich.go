package reconcile

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/tannerhall/briefd/internal/cache"
)

// Resolver supplies the slow lookups a post needs after its base event
// has already been delivered: the author's display name and attachment
// metadata. Implementations talk to the remote collaborators; tests use
// fakes.
type Resolver interface {
	ResolveAuthor(ctx context.Context, userID string) (string, error)
	ResolveAttachments(ctx context.Context, fileIDs []string) ([]cache.AttachmentRef, error)
}

// spawnEnrichment starts a detached, supervised enrichment task for a
// post. The base event has already been emitted; this task may finish
// after later events for the same post have landed, in which case it
// fills only what those events left absent. Failures are logged and the
// enrichment is skipped; nothing reaches the dispatch path.
func (r *Reconciler) spawnEnrichment(postID, authorID string, fileIDs []string) {
	if r.resolver == nil {
		return
	}

	r.enrichWG.Add(1)
	go func() {
		defer r.enrichWG.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.LogPanic(recovered, string(debug.Stack()))
			}
		}()

		start := time.Now()

		authorName, err := r.resolver.ResolveAuthor(r.ctx, authorID)
		if err != nil {
			r.logger.LogEnrichment(postID, time.Since(start), err)
			authorName = ""
		}

		var attachments []cache.AttachmentRef
		if len(fileIDs) > 0 {
			attachments, err = r.resolver.ResolveAttachments(r.ctx, fileIDs)
			if err != nil {
				r.logger.LogEnrichment(postID, time.Since(start), err)
				attachments = nil
			}
		}

		if authorName == "" && len(attachments) == 0 {
			return
		}

		// Fill-only-absent: a later base event for this post wins
		if !r.store.ApplyEnrichment(postID, authorName, attachments) {
			return
		}

		r.logger.LogEnrichment(postID, time.Since(start), nil)

		stored, ok := r.store.GetPost(postID)
		if !ok {
			return
		}
		r.emit(Event{
			Type:      EventPostEnriched,
			ChannelID: stored.ChannelID,
			Post:      &stored,
		})
	}()
}

// WaitEnrichment blocks until all in-flight enrichment tasks settle.
// Intended for tests and orderly shutdown.
func (r *Reconciler) WaitEnrichment() {
	r.enrichWG.Wait()
}
