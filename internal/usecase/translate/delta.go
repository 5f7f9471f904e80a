package translate

import (
	"net/url"
	"reflect"
	"regexp"

	"zhatRelay/internal/domain"
)

var thumbnailSize = regexp.MustCompile(`-(\{width\}x\{height\}|\d+x\d+)(\.[A-Za-z]+)$`)

// Changed returns the change predicate used by pollers for a family.
func (r *Registry) Changed(family domain.Kind) func(prev, next domain.RawResponse) bool {
	switch family {
	case domain.KindStreamingStatus:
		return r.StreamStatusChanged
	case domain.KindCheermotes:
		return r.CheermotesChanged
	default:
		return rawChanged
	}
}

func rawChanged(prev, next domain.RawResponse) bool {
	return prev.Version != next.Version || !reflect.DeepEqual(prev.Body, next.Body)
}

// failureChanged decides a comparison where at least one side does not
// translate. A repeated bad payload is not a change, so it is rejected once.
func failureChanged(prev, next domain.RawResponse, errA, errB error) bool {
	if errA != nil && errB != nil {
		return rawChanged(prev, next)
	}
	return true
}

// StreamStatusChanged compares the translated statuses, ignoring thumbnail
// cache-busting query strings and size templates. A newly untranslatable
// response counts as changed so the failure surfaces downstream.
func (r *Registry) StreamStatusChanged(prev, next domain.RawResponse) bool {
	a, errA := r.Translate(prev)
	b, errB := r.Translate(next)
	if errA != nil || errB != nil {
		return failureChanged(prev, next, errA, errB)
	}
	sa, okA := a.Payload().(domain.StreamStatus)
	sb, okB := b.Payload().(domain.StreamStatus)
	if !okA || !okB {
		return true
	}
	sa.ThumbnailURL = canonicalThumbnail(sa.ThumbnailURL)
	sb.ThumbnailURL = canonicalThumbnail(sb.ThumbnailURL)
	return !reflect.DeepEqual(sa, sb)
}

// CheermotesChanged compares the normalized catalogs, so a payload that only
// reorders cheermotes or tiers is not a change.
func (r *Registry) CheermotesChanged(prev, next domain.RawResponse) bool {
	a, errA := r.Translate(prev)
	b, errB := r.Translate(next)
	if errA != nil || errB != nil {
		return failureChanged(prev, next, errA, errB)
	}
	return !reflect.DeepEqual(a.Payload(), b.Payload())
}

func canonicalThumbnail(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = thumbnailSize.ReplaceAllString(u.Path, "$2")
	u.RawPath = ""
	return u.String()
}
