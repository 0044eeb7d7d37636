package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/storage"
)

// MaxMessageLen is Telegram's limit for a single text message.
const MaxMessageLen = 4096

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatReport formats the result of a check. On a subscriber's first report
// the header says these are the current filings rather than new ones.
func FormatReport(res matcher.Result, cutoff time.Time, firstRun bool) string {
	switch res.Reason {
	case matcher.ReasonNoWatchlist:
		return "Your watchlist is empty. Use /add <code> to watch a company."
	case matcher.ReasonNoNewMatches:
		return fmt.Sprintf("No new bankruptcy filings for your companies after %s.", model.FormatEventDate(cutoff))
	}

	var b strings.Builder
	if firstRun {
		fmt.Fprintf(&b, "Bankruptcy filings for your companies after %s (%d):\n", model.FormatEventDate(cutoff), len(res.Items))
	} else {
		fmt.Fprintf(&b, "New bankruptcy filings (%d):\n", len(res.Items))
	}
	for _, it := range res.Items {
		b.WriteString("\n")
		b.WriteString(formatMatch(it))
	}
	return b.String()
}

func formatMatch(m model.MatchResult) string {
	name := m.DisplayName
	if name == "" {
		name = "(no name)"
	}
	return fmt.Sprintf("%s  %s  %s", model.FormatEventDate(m.EventDate), m.Identifier, name)
}

// FormatWatchlist formats a subscriber's watched identifiers.
func FormatWatchlist(ids []string) string {
	if len(ids) == 0 {
		return "Your watchlist is empty. Use /add <code> or /import to add companies."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Watched companies (%d):\n", len(ids))
	for _, id := range ids {
		b.WriteString("\n")
		b.WriteString(id)
	}
	return b.String()
}

// FormatLookup formats every filing of a single company.
func FormatLookup(identifier string, recs []model.RegistryRecord) string {
	if len(recs) == 0 {
		return fmt.Sprintf("No bankruptcy filings found for %s.", identifier)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Bankruptcy filings for %s (%d):\n", identifier, len(recs))
	for _, r := range recs {
		name := r.DisplayName
		if name == "" {
			name = "(no name)"
		}
		fmt.Fprintf(&b, "\n%s  %s", r.EventDate, name)
	}
	return b.String()
}

// FormatImport summarizes a bulk import.
func FormatImport(res storage.ImportResult) string {
	s := fmt.Sprintf("Imported %d new of %d codes.", res.Added, res.Seen)
	if res.Malformed > 0 {
		s += fmt.Sprintf(" Skipped %d invalid.", res.Malformed)
	}
	return s
}

// FormatRefresh formats the outcome of a registry refresh.
func FormatRefresh(rep ingest.Report) string {
	var b strings.Builder
	if rep.Unchanged {
		fmt.Fprintf(&b, "Registry is up to date: %d records.", rep.Records)
	} else {
		fmt.Fprintf(&b, "Registry updated: %d records.", rep.Records)
	}
	if rep.Diagnostic != "" {
		b.WriteString("\n")
		b.WriteString(rep.Diagnostic)
	}
	return b.String()
}

// StatusInfo is everything /status shows.
type StatusInfo struct {
	Subscriber *model.Subscriber
	Watched    int
	Ingest     *storage.IngestState
	Cutoff     time.Time
	CheckAt    string
	Location   *time.Location
}

// FormatStatus formats the subscription and registry status.
func FormatStatus(s StatusInfo) string {
	var b strings.Builder

	status := statusPaused
	if s.Subscriber != nil && s.Subscriber.IsActive {
		status = statusActive
	}
	fmt.Fprintf(&b, "Daily report: %s\n", status)
	fmt.Fprintf(&b, "Watched companies: %d\n", s.Watched)
	fmt.Fprintf(&b, "Filings after: %s\n", model.FormatEventDate(s.Cutoff))
	if s.CheckAt != "" {
		loc := time.UTC
		if s.Location != nil {
			loc = s.Location
		}
		fmt.Fprintf(&b, "Check time: %s %s\n", s.CheckAt, loc)
	}

	if s.Ingest == nil {
		b.WriteString("Registry: not loaded yet")
		return b.String()
	}
	fmt.Fprintf(&b, "Registry: %d records, loaded %s", s.Ingest.Records, s.Ingest.IngestedAt.Format("2006-01-02 15:04 UTC"))
	if !s.Ingest.SourceUpdated.IsZero() {
		fmt.Fprintf(&b, "\nPublished: %s", s.Ingest.SourceUpdated.Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

// SplitMessage cuts text into parts of at most limit characters, breaking on
// line boundaries. A single line longer than limit is cut mid-line.
func SplitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			r := []rune(line)
			parts = append(parts, string(r[:limit]))
			line = string(r[limit:])
			n -= limit
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}
