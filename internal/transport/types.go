package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateInstalled is emitted when the bot is added to a chat.
	UpdateInstalled UpdateKind = "installed"
	// UpdateUninstalled is emitted when the bot is removed from (or kicked out of) a chat.
	UpdateUninstalled UpdateKind = "uninstalled"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Install *Install
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

// Install describes a membership change of the bot itself.
type Install struct {
	ChatID    int64
	ThreadID  int
	ChatTitle string
	ByID      int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Silent delivers without a notification sound.
	Silent bool
}

// Color is a hint for how urgent a room message looks.
type Color string

const (
	ColorNone   Color = ""
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

type Notification struct {
	Channel string // "telegram" now
	Target  ChatTarget
	Text    string
	Color   Color
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
