package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"zhatRelay/internal/domain"
)

// Registry selects a translator by the raw response's version tag.
type Registry struct {
	translators map[domain.RawVersion]domain.Translator
}

// NewRegistry returns a registry with every built-in wire shape registered.
func NewRegistry() *Registry {
	r := &Registry{translators: make(map[domain.RawVersion]domain.Translator)}
	r.Register(domain.VersionStreamsHelix2018, StreamsHelix2018)
	r.Register(domain.VersionStreamsHelix, StreamsHelix)
	r.Register(domain.VersionStreamsOffline, StreamsOffline)
	r.Register(domain.VersionCheermotesV5, CheermotesV5)
	r.Register(domain.VersionCheermotesHelix, CheermotesHelix)
	r.Register(domain.VersionNoticeIRC, NoticeIRC)
	return r
}

func (r *Registry) Register(version domain.RawVersion, t domain.Translator) {
	r.translators[version] = t
}

func (r *Registry) Translate(raw domain.RawResponse) (domain.Event, error) {
	t, ok := r.translators[raw.Version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownVersion, raw.Version)
	}
	return t(raw)
}

// Versions lists the registered version tags in sorted order.
func (r *Registry) Versions() []domain.RawVersion {
	out := make([]domain.RawVersion, 0, len(r.translators))
	for v := range r.translators {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func missing(version domain.RawVersion, field string) error {
	return &domain.TranslationError{Version: version, Field: field, Reason: "required field missing"}
}

func malformed(version domain.RawVersion, field, format string, args ...any) error {
	return &domain.TranslationError{Version: version, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func unexpectedBody(raw domain.RawResponse) error {
	return malformed(raw.Version, "body", "unexpected body type %T", raw.Body)
}

// decodeBody returns the wire model carried by raw. Fetchers hand over the
// endpoint's JSON untouched, so type mismatches are reported here as bad
// fields rather than as transport failures.
func decodeBody[T any](raw domain.RawResponse) (T, error) {
	var out T
	switch body := raw.Body.(type) {
	case T:
		return body, nil
	case json.RawMessage:
		return out, decodeJSON(raw.Version, body, &out)
	case []byte:
		return out, decodeJSON(raw.Version, body, &out)
	}
	return out, unexpectedBody(raw)
}

func decodeJSON(version domain.RawVersion, data []byte, out any) error {
	err := json.Unmarshal(data, out)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return malformed(version, field, "expected %s, got JSON %s", typeErr.Type, typeErr.Value)
	}
	return malformed(version, "body", "invalid JSON: %v", err)
}

// stringSet returns the distinct non-empty values of in, sorted. The result
// is never nil so equal sets compare equal.
func stringSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
