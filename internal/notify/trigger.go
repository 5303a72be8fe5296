package notify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tannerhall/briefd/internal/cache"
	"github.com/tannerhall/briefd/internal/config"
)

const previewRunes = 120

// Decision is the outcome of inspecting one post-created event. The
// trigger only decides; the caller performs the actual UI alert.
type Decision struct {
	Alert   bool
	Title   string
	Preview string
}

// Trigger decides whether a reconciled post should raise a user-facing
// alert. It is a pure observer: side-effect free beyond its return value.
type Trigger struct {
	userID   string
	username string
	keywords map[string]struct{}
	enabled  bool

	handleRegex *regexp.Regexp
}

// NewTrigger builds a trigger for the current user. Keywords are the
// reserved broadcast handles that alert everyone (defaults: channel,
// all, here).
func NewTrigger(cfg *config.Notify, identity config.Identity) *Trigger {
	keywords := make(map[string]struct{}, len(cfg.Keywords))
	for _, keyword := range cfg.Keywords {
		keywords[strings.ToLower(keyword)] = struct{}{}
	}

	var handleRegex *regexp.Regexp
	if identity.Username != "" {
		handleRegex = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(identity.Username) + `\b`)
	}

	return &Trigger{
		userID:      identity.UserID,
		username:    strings.ToLower(identity.Username),
		keywords:    keywords,
		enabled:     cfg.Enabled,
		handleRegex: handleRegex,
	}
}

var mentionTokenRegex = regexp.MustCompile(`@([\p{L}\p{N}._-]+)`)

// Mentions reports whether the text mentions the current user's handle
// or one of the broadcast keywords, case-insensitively.
func (t *Trigger) Mentions(text string) bool {
	for _, match := range mentionTokenRegex.FindAllStringSubmatch(text, -1) {
		token := strings.ToLower(match[1])
		if token == t.username {
			return true
		}
		if _, ok := t.keywords[token]; ok {
			return true
		}
	}

	if t.handleRegex != nil && t.handleRegex.MatchString(text) {
		return true
	}

	return false
}

// MentionsPost adapts Mentions to the reconciler's callback shape
func (t *Trigger) MentionsPost(post cache.Post) bool {
	return t.Mentions(post.Text)
}

// Decide inspects a reconciled post-created event. No alert is raised
// for the user's own posts, regardless of content.
func (t *Trigger) Decide(post cache.Post, channelName string) Decision {
	if !t.enabled {
		return Decision{}
	}
	if post.AuthorID == t.userID {
		// No self-notification
		return Decision{}
	}
	if !t.Mentions(post.Text) {
		return Decision{}
	}

	title := channelName
	if title == "" {
		title = "New mention"
	}

	author := post.AuthorName
	if author == "" {
		author = post.AuthorID
	}

	return Decision{
		Alert:   true,
		Title:   title,
		Preview: fmt.Sprintf("%s: %s", author, preview(post.Text, previewRunes)),
	}
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
