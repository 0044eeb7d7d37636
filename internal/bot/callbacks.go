package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck = "check"
	cmdClear = "clear"

	actionClearConfirmed = "clear_yes"
	actionNoop           = "noop"
)

// handleClear asks for confirmation before the ledger is wiped.
func (b *Bot) handleClear(chatID int64) {
	msg := tgbotapi.NewMessage(chatID,
		"Clear the history of sent filings? The next /check will report every current filing again.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, clear", fmt.Sprintf("%s:%d", actionClearConfirmed, chatID)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", actionNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send clear confirmation", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := parseCallback(cb.Data)
	if !ok {
		return
	}
	target, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}

	var userID int64
	var username string
	if cb.From != nil {
		userID, username = cb.From.ID, cb.From.UserName
	}
	b.log.Info("callback",
		"action", action,
		"target", target,
		"chat_id", chatID,
		"user_id", userID,
		"username", username,
	)

	// Buttons act on the chat they were sent to; a stale or forged target
	// is ignored.
	if action != actionNoop && target != chatID {
		return
	}

	switch action {
	case actionClearConfirmed:
		n, err := b.store.ClearLedger(ctx, chatID)
		if err != nil {
			b.log.Error("clear ledger", "chat_id", chatID, "error", err)
			b.reply(chatID, userError(err))
			return
		}
		b.log.Info("cleared ledger", "chat_id", chatID, "deleted", n)
		b.reply(chatID, fmt.Sprintf("History cleared: %d sent filings forgotten.", n))
	case cmdCheck:
		b.spawn(ctx, cmdCheck, func(ctx context.Context) { b.handleCheck(ctx, chatID) })
	}
}
