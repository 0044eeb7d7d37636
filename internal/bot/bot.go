// Package bot implements the Telegram command surface.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bankrupt_bot/internal/config"
	"bankrupt_bot/internal/fetcher"
	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// Refresher keeps the registry snapshot current.
type Refresher interface {
	Refresh(ctx context.Context, force bool) (ingest.Report, error)
	Ensure(ctx context.Context) error
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	matcher  *matcher.Matcher
	ingester Refresher
	http     fetcher.HTTPClient
	cfg      *config.Config
	log      *slog.Logger

	tasks sync.WaitGroup
}

// New creates a Bot with the given Telegram token and collaborators.
func New(token string, store storage.Storage, m *matcher.Matcher, in Refresher,
	httpClient fetcher.HTTPClient, cfg *config.Config, log *slog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		store:    store,
		matcher:  m,
		ingester: in,
		http:     httpClient,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// Background checks still running at that point are waited for.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.tasks.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.allowed(update.CallbackQuery.From) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			msg := update.Message
			if msg == nil || (!msg.IsCommand() && msg.Document == nil) {
				continue
			}
			if !b.allowed(msg.From) {
				b.reply(msg.Chat.ID, "Access denied.")
				continue
			}
			if msg.Document != nil {
				b.spawn(ctx, "import document", func(ctx context.Context) {
					b.handleDocument(ctx, msg.Chat.ID, msg.Document)
				})
				continue
			}
			b.handleCommand(ctx, msg)
		}
	}
}

func (b *Bot) allowed(u *tgbotapi.User) bool {
	return u != nil && b.cfg.IsUserAllowed(u.ID)
}

// SendMessage sends a text message to the given chat, split into several
// messages when it exceeds Telegram's length limit.
func (b *Bot) SendMessage(chatID int64, text string) error {
	for _, part := range SplitMessage(text, MaxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send message", "chat_id", chatID, "error", err)
			return fmt.Errorf("send message to %d: %w", chatID, err)
		}
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	_ = b.SendMessage(chatID, text)
}

// spawn runs a slow command off the update loop.
func (b *Bot) spawn(ctx context.Context, name string, fn func(ctx context.Context)) {
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(ctx)
	}()
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "stop":
		b.handleStop(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "import":
		b.handleImport(ctx, chatID, args)
	case "status":
		b.handleStatus(ctx, chatID)
	case cmdClear:
		b.handleClear(chatID)
	case cmdCheck:
		b.spawn(ctx, cmdCheck, func(ctx context.Context) { b.handleCheck(ctx, chatID) })
	case "find":
		b.spawn(ctx, "find", func(ctx context.Context) { b.handleFind(ctx, chatID, args) })
	case "refresh":
		b.spawn(ctx, "refresh", func(ctx context.Context) { b.handleRefresh(ctx, chatID) })
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
