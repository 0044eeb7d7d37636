package bot

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/storage"
)

func TestParseIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "spaces", text: "111 222", want: []string{"111", "222"}},
		{name: "commas and semicolons", text: "111,222;333", want: []string{"111", "222", "333"}},
		{name: "lines", text: "111\r\n222\n\n 333 ", want: []string{"111", "222", "333"}},
		{name: "empty", text: " \n ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIdentifiers(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseIdentifiers(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestSplitValid(t *testing.T) {
	valid, invalid := SplitValid([]string{"111", "abc", "111", "1234567890123", "00222"})
	if diff := cmp.Diff([]string{"111", "00222"}, valid); diff != "" {
		t.Errorf("valid mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"abc", "1234567890123"}, invalid); diff != "" {
		t.Errorf("invalid mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data       string
		wantAction string
		wantArg    string
		wantOK     bool
	}{
		{data: "clear_yes:42", wantAction: "clear_yes", wantArg: "42", wantOK: true},
		{data: "check:-100", wantAction: "check", wantArg: "-100", wantOK: true},
		{data: "nocolon", wantAction: "nocolon"},
		{data: ":1", wantArg: "1"},
	}
	for _, tt := range tests {
		action, arg, ok := parseCallback(tt.data)
		if action != tt.wantAction || arg != tt.wantArg || ok != tt.wantOK {
			t.Errorf("parseCallback(%q) = %q, %q, %v", tt.data, action, arg, ok)
		}
	}
}

func TestFormatReport(t *testing.T) {
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []model.MatchResult{
		{Identifier: "111", DisplayName: "Alpha", EventDate: time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)},
		{Identifier: "333", EventDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
	}

	tests := []struct {
		name     string
		res      matcher.Result
		firstRun bool
		want     string
	}{
		{
			name: "no watchlist",
			res:  matcher.Result{Reason: matcher.ReasonNoWatchlist},
			want: "Your watchlist is empty. Use /add <code> to watch a company.",
		},
		{
			name: "no new matches",
			res:  matcher.Result{Reason: matcher.ReasonNoNewMatches},
			want: "No new bankruptcy filings for your companies after 01.01.2025.",
		},
		{
			name:     "first run",
			res:      matcher.Result{Items: items, Reason: matcher.ReasonNewMatches},
			firstRun: true,
			want: "Bankruptcy filings for your companies after 01.01.2025 (2):\n\n" +
				"05.02.2025  111  Alpha\n10.03.2025  333  (no name)",
		},
		{
			name: "later run",
			res:  matcher.Result{Items: items[:1], Reason: matcher.ReasonNewMatches},
			want: "New bankruptcy filings (1):\n\n05.02.2025  111  Alpha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatReport(tt.res, cutoff, tt.firstRun)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FormatReport mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatWatchlist(t *testing.T) {
	requireContains(t, FormatWatchlist(nil), "watchlist is empty")
	if diff := cmp.Diff("Watched companies (2):\n\n111\n222", FormatWatchlist([]string{"111", "222"})); diff != "" {
		t.Errorf("FormatWatchlist mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatLookup(t *testing.T) {
	recs := []model.RegistryRecord{
		{Identifier: "111", DisplayName: "Alpha", EventDate: "05.02.2025"},
		{Identifier: "111", DisplayName: "", EventDate: "garbage"},
	}
	want := "Bankruptcy filings for 111 (2):\n\n05.02.2025  Alpha\ngarbage  (no name)"
	if diff := cmp.Diff(want, FormatLookup("111", recs)); diff != "" {
		t.Errorf("FormatLookup mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("No bankruptcy filings found for 5.", FormatLookup("5", nil)); diff != "" {
		t.Errorf("FormatLookup empty mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatImport(t *testing.T) {
	tests := []struct {
		res  storage.ImportResult
		want string
	}{
		{res: storage.ImportResult{Seen: 3, Added: 3}, want: "Imported 3 new of 3 codes."},
		{res: storage.ImportResult{Seen: 7, Added: 3, Malformed: 3}, want: "Imported 3 new of 7 codes. Skipped 3 invalid."},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, FormatImport(tt.res)); diff != "" {
			t.Errorf("FormatImport mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestFormatRefresh(t *testing.T) {
	tests := []struct {
		rep  ingest.Report
		want string
	}{
		{rep: ingest.Report{Records: 10}, want: "Registry updated: 10 records."},
		{rep: ingest.Report{Records: 10, Unchanged: true}, want: "Registry is up to date: 10 records."},
		{rep: ingest.Report{Records: 9, Diagnostic: "2 malformed rows skipped"}, want: "Registry updated: 9 records.\n2 malformed rows skipped"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, FormatRefresh(tt.rep)); diff != "" {
			t.Errorf("FormatRefresh mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	kyiv, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	info := StatusInfo{
		Subscriber: &model.Subscriber{ChatID: 1, IsActive: true},
		Watched:    4,
		Ingest: &storage.IngestState{
			IngestedAt:    time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC),
			SourceUpdated: time.Date(2025, 3, 12, 7, 45, 0, 0, time.UTC),
			Records:       1500,
		},
		Cutoff:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		CheckAt:  "09:00",
		Location: kyiv,
	}
	want := "Daily report: active\n" +
		"Watched companies: 4\n" +
		"Filings after: 01.01.2025\n" +
		"Check time: 09:00 Europe/Kyiv\n" +
		"Registry: 1500 records, loaded 2025-03-12 09:00 UTC\n" +
		"Published: 2025-03-12 07:45 UTC"
	if diff := cmp.Diff(want, FormatStatus(info)); diff != "" {
		t.Errorf("FormatStatus mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "fits", text: "a\nb", limit: 10, want: []string{"a\nb"}},
		{name: "line boundaries", text: "aaaa\nbbbb\ncccc", limit: 10, want: []string{"aaaa\nbbbb", "cccc"}},
		{name: "long line cut", text: "abcdefghij\nx", limit: 4, want: []string{"abcd", "efgh", "ij\nx"}},
		{name: "counts runes not bytes", text: "ааа\nббб", limit: 7, want: []string{"ааа\nббб"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.limit)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SplitMessage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUserError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("wrapped: %w", ingest.ErrBusy), want: "being reloaded"},
		{err: fmt.Errorf("%w: boom", matcher.ErrRegistryUnavailable), want: "unavailable"},
		{err: matcher.ErrInvalidArgument, want: "Invalid request"},
		{err: errors.New("disk full"), want: "Something went wrong"},
	}
	for _, tt := range tests {
		if got := userError(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("userError(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
