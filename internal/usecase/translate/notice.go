package translate

import (
	"strconv"
	"strings"
	"time"

	"zhatRelay/internal/domain"
)

const paramPrefix = "msg-param-"

var noticeTypes = map[string]domain.NotificationType{
	"sub":            domain.NotificationSubscription,
	"resub":          domain.NotificationResub,
	"subgift":        domain.NotificationGiftSub,
	"submysterygift": domain.NotificationGiftSub,
	"anonsubgift":    domain.NotificationGiftSub,
	"raid":           domain.NotificationRaid,
	"bitsbadgetier":  domain.NotificationBits,
}

// amountTag names the msg-param tag holding the notification's quantity.
var amountTag = map[domain.NotificationType]string{
	domain.NotificationSubscription: "msg-param-cumulative-months",
	domain.NotificationResub:        "msg-param-cumulative-months",
	domain.NotificationGiftSub:      "msg-param-mass-gift-count",
	domain.NotificationRaid:         "msg-param-viewerCount",
	domain.NotificationBits:         "msg-param-threshold",
}

// NoticeIRC translates a USERNOTICE message into a notification event.
func NoticeIRC(raw domain.RawResponse) (domain.Event, error) {
	body, err := decodeBody[domain.RawNotice](raw)
	if err != nil {
		return nil, err
	}
	tags := body.Tags

	msgID := strings.TrimSpace(tags["msg-id"])
	if msgID == "" {
		return nil, missing(raw.Version, "msg-id")
	}
	id := strings.TrimSpace(tags["id"])
	if id == "" {
		return nil, missing(raw.Version, "id")
	}
	channelID := firstNonEmpty(tags["room-id"], raw.ChannelID)
	if channelID == "" {
		return nil, missing(raw.Version, "room-id")
	}

	kind, known := noticeTypes[msgID]
	if !known {
		kind = domain.NotificationGeneric
	}

	createdAt := raw.ReceivedAt.UTC()
	if ts := tags["tmi-sent-ts"]; ts != "" {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, malformed(raw.Version, "tmi-sent-ts", "not a millisecond timestamp: %q", ts)
		}
		createdAt = time.UnixMilli(ms).UTC()
	}

	amount, err := noticeAmount(raw.Version, kind, msgID, tags)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"msg-id": msgID}
	for k, v := range tags {
		if strings.HasPrefix(k, paramPrefix) {
			metadata[strings.TrimPrefix(k, paramPrefix)] = v
		}
	}
	if sys := tags["system-msg"]; sys != "" {
		metadata["system-msg"] = unescapeTag(sys)
	}

	n := domain.Notification{
		ID:        id,
		Type:      kind,
		UserID:    tags["user-id"],
		Username:  firstNonEmpty(tags["display-name"], tags["login"]),
		Amount:    amount,
		Message:   body.Message,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}
	return domain.NewNotificationEvent(channelID, createdAt, n), nil
}

func noticeAmount(version domain.RawVersion, kind domain.NotificationType, msgID string, tags map[string]string) (int64, error) {
	tag, ok := amountTag[kind]
	if !ok {
		return 0, nil
	}
	// A single gifted sub is one sub. sender-count is the gifter's channel
	// total and stays in the metadata.
	if msgID == "subgift" || msgID == "anonsubgift" {
		return 1, nil
	}
	v := strings.TrimSpace(tags[tag])
	if v == "" {
		if kind == domain.NotificationSubscription {
			return 1, nil
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, malformed(version, tag, "not a non-negative integer: %q", v)
	}
	return n, nil
}

// unescapeTag reverses IRCv3 tag value escaping.
func unescapeTag(v string) string {
	return strings.NewReplacer(`\s`, " ", `\:`, ";", `\\`, `\`, `\r`, "\r", `\n`, "\n").Replace(v)
}
