package bot

import (
	"context"
	"fmt"
	"strconv"

	"roomwatch/internal/transport"
	"roomwatch/internal/watch"
)

// Queue is the async delivery side, normally *notifier.Service.
type Queue interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// RoomKey maps a chat target to the (room, client) pair used by the
// registry and the subscriber store. A client is a chat; a room is one
// forum topic of it (0 for the main thread).
func RoomKey(t transport.ChatTarget) (room, client string) {
	return strconv.Itoa(t.ThreadID), strconv.FormatInt(t.ChatID, 10)
}

// Target is the inverse of RoomKey.
func Target(k watch.Key) (transport.ChatTarget, error) {
	chatID, err := strconv.ParseInt(k.ClientID, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("bot: bad client id %q: %w", k.ClientID, err)
	}
	thread := 0
	if k.RoomID != "" {
		thread, err = strconv.Atoi(k.RoomID)
		if err != nil {
			return transport.ChatTarget{}, fmt.Errorf("bot: bad room id %q: %w", k.RoomID, err)
		}
	}
	return transport.ChatTarget{ChatID: chatID, ThreadID: thread}, nil
}

// RoomNotifier delivers monitor announcements through the notifier queue.
type RoomNotifier struct {
	queue   Queue
	channel string
}

func NewRoomNotifier(q Queue) *RoomNotifier {
	return &RoomNotifier{queue: q, channel: "telegram"}
}

func (n *RoomNotifier) Send(ctx context.Context, key watch.Key, text string, opts watch.NotifyOptions) error {
	to, err := Target(key)
	if err != nil {
		return err
	}
	return n.queue.Notify(ctx, transport.Notification{
		Channel: n.channel,
		Target:  to,
		Text:    text,
		Color:   opts.Color,
		Options: &transport.SendOptions{DisablePreview: true, Silent: !opts.Notify},
	})
}
