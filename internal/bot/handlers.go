package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bankrupt_bot/internal/fetcher"
	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/storage"
)

const maxImportBytes = 1 << 20

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if err := b.store.Subscribe(ctx, chatID); err != nil {
		b.log.Error("subscribe", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, fmt.Sprintf(`Welcome to the bankruptcy watch bot!

I check the Ukrainian bankruptcy registry every day at %02d:%02d and report filings after %s for the companies you watch.

Quick start:
1. /add <code> — watch a company by its EDRPOU code
2. /check — see matching filings now

Use /help for the full command reference.`, b.cfg.CheckHour, b.cfg.CheckMin, model.FormatEventDate(b.cfg.Cutoff)))
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	if err := b.store.Unsubscribe(ctx, chatID); err != nil {
		b.log.Error("unsubscribe", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, "Daily reports stopped. Your watchlist is kept; /start or /add resumes them.")
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Watchlist:
/add <code...> — watch one or more companies
/remove <code...> — stop watching companies
/list — show watched companies
/import <codes> — add many codes at once (or send a .txt/.csv file)

Reports:
/check — report new filings now
/find <code> — all filings of one company
/clear — forget sent filings and report them again

Other:
/status — subscription and registry status
/refresh — reload the registry now
/stop — pause daily reports
/start — resume daily reports

Codes are EDRPOU numbers, digits only.`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	tokens := ParseIdentifiers(args)
	if len(tokens) == 0 {
		b.reply(chatID, "Usage: /add <code> [code...]")
		return
	}
	valid, invalid := SplitValid(tokens)

	var added, existing int
	for _, id := range valid {
		ok, err := b.store.AddWatch(ctx, chatID, id)
		if err != nil {
			b.log.Error("add watch", "chat_id", chatID, "identifier", id, "error", err)
			b.reply(chatID, userError(err))
			return
		}
		if ok {
			added++
		} else {
			existing++
		}
	}
	b.reply(chatID, formatChange("Added", added, "Already watched", existing, invalid))
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	tokens := ParseIdentifiers(args)
	if len(tokens) == 0 {
		b.reply(chatID, "Usage: /remove <code> [code...]")
		return
	}
	valid, invalid := SplitValid(tokens)

	var removed, missing int
	for _, id := range valid {
		ok, err := b.store.RemoveWatch(ctx, chatID, id)
		if err != nil {
			b.log.Error("remove watch", "chat_id", chatID, "identifier", id, "error", err)
			b.reply(chatID, userError(err))
			return
		}
		if ok {
			removed++
		} else {
			missing++
		}
	}
	b.reply(chatID, formatChange("Removed", removed, "Not watched", missing, invalid))
}

func formatChange(doneLabel string, done int, skipLabel string, skipped int, invalid []string) string {
	parts := []string{fmt.Sprintf("%s: %d.", doneLabel, done)}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%s: %d.", skipLabel, skipped))
	}
	if len(invalid) > 0 {
		parts = append(parts, fmt.Sprintf("Invalid: %s.", strings.Join(invalid, ", ")))
	}
	return strings.Join(parts, " ")
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	ids, err := b.store.ListWatch(ctx, chatID)
	if err != nil {
		b.log.Error("list watch", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	if len(ids) == 0 {
		b.reply(chatID, FormatWatchlist(ids))
		return
	}

	parts := SplitMessage(FormatWatchlist(ids), MaxMessageLen)
	for _, p := range parts[:len(parts)-1] {
		b.reply(chatID, p)
	}
	msg := tgbotapi.NewMessage(chatID, parts[len(parts)-1])
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Check now", fmt.Sprintf("%s:%d", cmdCheck, chatID)),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send watchlist", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleImport(ctx context.Context, chatID int64, args string) {
	tokens := ParseIdentifiers(args)
	if len(tokens) == 0 {
		b.reply(chatID, "Usage: /import <code> <code> ... or send a .txt/.csv file with one code per line.")
		return
	}
	b.importTokens(ctx, chatID, tokens)
}

func (b *Bot) importTokens(ctx context.Context, chatID int64, tokens []string) {
	res, err := b.store.BulkImport(ctx, chatID, tokens)
	if err != nil {
		b.log.Error("bulk import", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	b.log.Info("imported watchlist", "chat_id", chatID, "seen", res.Seen, "added", res.Added, "malformed", res.Malformed)
	b.reply(chatID, FormatImport(res))
}

func (b *Bot) handleDocument(ctx context.Context, chatID int64, doc *tgbotapi.Document) {
	if doc.FileSize > maxImportBytes {
		b.reply(chatID, "The file is too large. Send at most 1 MB of codes.")
		return
	}
	url, err := b.api.GetFileDirectURL(doc.FileID)
	if err != nil {
		b.log.Error("get file url", "chat_id", chatID, "file", doc.FileName, "error", err)
		b.reply(chatID, "Could not download the file. Try again later.")
		return
	}
	body, err := b.download(ctx, url)
	if err != nil {
		b.log.Error("download document", "chat_id", chatID, "file", doc.FileName, "error", err)
		b.reply(chatID, "Could not download the file. Try again later.")
		return
	}
	text, _, err := fetcher.DecodeCSV(body)
	if err != nil {
		b.reply(chatID, "Could not read the file. Send plain text with one code per line.")
		return
	}
	tokens := ParseIdentifiers(text)
	if len(tokens) == 0 {
		b.reply(chatID, "The file has no codes.")
		return
	}
	b.importTokens(ctx, chatID, tokens)
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxImportBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxImportBytes)
	}
	return body, nil
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	if err := b.ingester.Ensure(ctx); err != nil {
		b.reply(chatID, userError(err))
		return
	}
	first, err := b.store.LedgerEmpty(ctx, chatID)
	if err != nil {
		b.log.Error("ledger empty", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	res, err := b.matcher.ComputeNewMatches(ctx, chatID, b.cfg.Cutoff, true)
	if err != nil {
		b.log.Error("compute matches", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	b.log.Info("manual check", "chat_id", chatID, "matches", len(res.Items), "reason", res.Reason)
	b.reply(chatID, FormatReport(res, b.cfg.Cutoff, first))
}

func (b *Bot) handleFind(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 || !model.ValidIdentifier(fields[0]) {
		b.reply(chatID, "Usage: /find <code> (digits only)")
		return
	}
	if err := b.ingester.Ensure(ctx); err != nil {
		b.reply(chatID, userError(err))
		return
	}
	recs, err := b.matcher.Lookup(ctx, fields[0])
	if err != nil {
		b.log.Error("lookup", "chat_id", chatID, "identifier", fields[0], "error", err)
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, FormatLookup(fields[0], recs))
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64) {
	b.reply(chatID, "Reloading the registry…")
	rep, err := b.ingester.Refresh(ctx, true)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, FormatRefresh(rep))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	info := StatusInfo{
		Cutoff:   b.cfg.Cutoff,
		CheckAt:  fmt.Sprintf("%02d:%02d", b.cfg.CheckHour, b.cfg.CheckMin),
		Location: b.cfg.Location,
	}

	sub, err := b.store.GetSubscriber(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrSubscriberNotFound):
	case err != nil:
		b.log.Error("get subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	default:
		info.Subscriber = sub
	}

	ids, err := b.store.ListWatch(ctx, chatID)
	if err != nil {
		b.log.Error("list watch", "chat_id", chatID, "error", err)
		b.reply(chatID, userError(err))
		return
	}
	info.Watched = len(ids)

	st, err := b.store.IngestState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotIngested):
	case err != nil:
		b.log.Error("ingest state", "error", err)
		b.reply(chatID, userError(err))
		return
	default:
		info.Ingest = st
	}

	b.reply(chatID, FormatStatus(info))
}

// userError turns an error into a message that is safe to show in chat.
func userError(err error) string {
	switch {
	case errors.Is(err, ingest.ErrBusy):
		return "The registry is being reloaded right now. Try again in a minute."
	case errors.Is(err, matcher.ErrRegistryUnavailable):
		return "The bankruptcy registry is unavailable right now. Try again later."
	case errors.Is(err, matcher.ErrInvalidArgument):
		return "Invalid request. Use /help for the command format."
	default:
		return "Something went wrong. Try again later."
	}
}
