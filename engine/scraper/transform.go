package scraper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/pkg/fn"
)

const (
	// UnknownAuthor is used when the provider gives no author name.
	UnknownAuthor = "Unknown"
	// MaxTopComments caps the comments carried on each post.
	MaxTopComments = 3
)

// Actor output is not stable across versions; each field lists the keys to
// try in order, the first non-empty one wins.
var (
	idKeys        = []string{"facebookId", "id", "postId"}
	textKeys      = []string{"postText", "text", "message"}
	authorKeys    = []string{"profileName", "user.name", "authorName"}
	authorURLKeys = []string{"profileUrl", "user.url"}
	postURLKeys   = []string{"postUrl", "url"}
	timeKeys      = []string{"time", "timestamp"}
	likeKeys      = []string{"likesCount", "likes"}
	commentKeys   = []string{"commentsCount", "comments"}
	shareKeys     = []string{"sharesCount", "shares"}
)

func decodeItem(m map[string]any) domain.RawItem {
	hasMedia, mediaType := media(m)
	return domain.RawItem{
		ProviderID:    str(m, idKeys),
		Text:          str(m, textKeys),
		Author:        str(m, authorKeys),
		AuthorURL:     str(m, authorURLKeys),
		PostURL:       str(m, postURLKeys),
		TimestampText: str(m, timeKeys),
		Likes:         count(m, likeKeys),
		Comments:      count(m, commentKeys),
		Shares:        count(m, shareKeys),
		HasMedia:      hasMedia,
		MediaType:     mediaType,
		TopComments:   topComments(m),
	}
}

// media reports whether the item carries attachments and, when known, their
// kind. An explicit media list wins over the video and image URL fields.
func media(m map[string]any) (bool, string) {
	if list, ok := m["media"].([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			if kind, ok := first["type"].(string); ok {
				return true, kind
			}
		}
		return true, ""
	}
	if v, ok := m["videoUrl"].(string); ok && v != "" {
		return true, "video"
	}
	if list, ok := m["imageUrls"].([]any); ok && len(list) > 0 {
		return true, "image"
	}
	return false, ""
}

func topComments(m map[string]any) []any {
	list, ok := m["topComments"].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	return list[:min(len(list), MaxTopComments)]
}

// lookup resolves a possibly dotted key ("user.name").
func lookup(m map[string]any, key string) (any, bool) {
	head, rest, nested := strings.Cut(key, ".")
	v, ok := m[head]
	if !ok || !nested {
		return v, ok
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(sub, rest)
}

func str(m map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			s = fmt.Sprint(t)
		}
		if s != "" {
			return s
		}
	}
	return ""
}

// count reads a counter that may arrive as a number, a numeric string, or
// a list (e.g. the comments themselves).
func count(m map[string]any, keys []string) int {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int(t)
		case string:
			if n, err := strconv.Atoi(t); err == nil {
				return n
			}
		case []any:
			return len(t)
		}
	}
	return 0
}

// Transform normalizes raw items into posts, dropping items without text.
// Provider order is preserved.
func Transform(items []domain.RawItem, capturedAt time.Time) []domain.Post {
	return fn.FilterMap(items, func(it domain.RawItem) (domain.Post, bool) {
		if strings.TrimSpace(it.Text) == "" {
			return domain.Post{}, false
		}
		author := it.Author
		if author == "" {
			author = UnknownAuthor
		}
		return domain.Post{
			ID:            "apify_" + it.ProviderID,
			ProviderID:    it.ProviderID,
			Author:        author,
			AuthorURL:     it.AuthorURL,
			TimestampText: it.TimestampText,
			Text:          it.Text,
			PostURL:       it.PostURL,
			CapturedAt:    capturedAt,
			Engagement: domain.Engagement{
				Likes:    it.Likes,
				Comments: it.Comments,
				Shares:   it.Shares,
			},
			HasMedia:    it.HasMedia,
			MediaType:   it.MediaType,
			TopComments: it.TopComments,
		}, true
	})
}
