package translate

import (
	"fmt"
	"sort"
	"strings"

	"zhatRelay/internal/domain"
)

type rawTier struct {
	id      string
	minBits *int64
	color   string
	images  domain.CheermoteImages
}

func normalizeTiers(version domain.RawVersion, name string, tiers []rawTier) ([]domain.CheermoteTier, error) {
	out := make([]domain.CheermoteTier, 0, len(tiers))
	for i, t := range tiers {
		field := fmt.Sprintf("%s.tiers[%d].min_bits", name, i)
		if t.minBits == nil {
			return nil, missing(version, field)
		}
		if *t.minBits < 0 {
			return nil, malformed(version, field, "must be non-negative, got %d", *t.minBits)
		}
		out = append(out, domain.CheermoteTier{
			ID:      t.id,
			MinBits: *t.minBits,
			Color:   t.color,
			Images:  flattenImages(t.images),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinBits < out[j].MinBits })
	return out, nil
}

// flattenImages turns theme -> format -> scale nesting into
// "theme/format/scale" keys.
func flattenImages(images domain.CheermoteImages) map[string]string {
	out := make(map[string]string)
	for theme, formats := range images {
		for format, scales := range formats {
			for scale, url := range scales {
				out[theme+"/"+format+"/"+scale] = url
			}
		}
	}
	return out
}

func catalogOf(cheermotes []domain.Cheermote) domain.CheermoteCatalog {
	sort.Slice(cheermotes, func(i, j int) bool { return cheermotes[i].Name < cheermotes[j].Name })
	return domain.CheermoteCatalog{Cheermotes: cheermotes}
}

// CheermotesV5 translates the legacy catalog keyed by cheermote name.
func CheermotesV5(raw domain.RawResponse) (domain.Event, error) {
	body, err := decodeBody[domain.CheermotesV5](raw)
	if err != nil {
		return nil, err
	}
	if raw.ChannelID == "" {
		return nil, missing(raw.Version, "channel_id")
	}

	cheermotes := make([]domain.Cheermote, 0, len(body))
	for name, cm := range body {
		if strings.TrimSpace(name) == "" {
			return nil, missing(raw.Version, "name")
		}
		tiers := make([]rawTier, 0, len(cm.Tiers))
		for _, t := range cm.Tiers {
			tiers = append(tiers, rawTier{id: t.ID, minBits: t.MinBits, color: t.Color, images: t.Images})
		}
		normalized, err := normalizeTiers(raw.Version, name, tiers)
		if err != nil {
			return nil, err
		}
		cheermotes = append(cheermotes, domain.Cheermote{Name: name, Tiers: normalized})
	}

	return domain.NewCheermotesEvent(raw.ChannelID, raw.ReceivedAt, catalogOf(cheermotes)), nil
}

// CheermotesHelix translates the Helix cheermote list.
func CheermotesHelix(raw domain.RawResponse) (domain.Event, error) {
	body, err := decodeBody[domain.CheermotesHelix](raw)
	if err != nil {
		return nil, err
	}
	if raw.ChannelID == "" {
		return nil, missing(raw.Version, "channel_id")
	}

	seen := make(map[string]struct{}, len(body))
	cheermotes := make([]domain.Cheermote, 0, len(body))
	for i, cm := range body {
		if strings.TrimSpace(cm.Prefix) == "" {
			return nil, missing(raw.Version, fmt.Sprintf("[%d].prefix", i))
		}
		if _, dup := seen[cm.Prefix]; dup {
			return nil, malformed(raw.Version, fmt.Sprintf("[%d].prefix", i), "duplicate cheermote %q", cm.Prefix)
		}
		seen[cm.Prefix] = struct{}{}

		tiers := make([]rawTier, 0, len(cm.Tiers))
		for _, t := range cm.Tiers {
			tiers = append(tiers, rawTier{id: t.ID, minBits: t.MinBits, color: t.Color, images: t.Images})
		}
		normalized, err := normalizeTiers(raw.Version, cm.Prefix, tiers)
		if err != nil {
			return nil, err
		}
		cheermotes = append(cheermotes, domain.Cheermote{Name: cm.Prefix, Tiers: normalized})
	}

	return domain.NewCheermotesEvent(raw.ChannelID, raw.ReceivedAt, catalogOf(cheermotes)), nil
}
