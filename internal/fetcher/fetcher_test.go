package fetcher

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/encoding/charmap"

	"bankrupt_bot/internal/model"
)

type mockResponse struct {
	body       string
	statusCode int
	err        error
}

// mockTransport answers by request URL. Unknown URLs get a 404.
type mockTransport struct {
	routes map[string]mockResponse
	calls  []string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	u := req.URL.String()
	m.calls = append(m.calls, u)
	r, ok := m.routes[u]
	if !ok {
		r = mockResponse{body: "not found", statusCode: http.StatusNotFound}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

const (
	testBase     = "https://portal.example"
	testDataset  = "bankrupt-ds"
	testFallback = "https://portal.example/fallback.csv"
	packageURL   = testBase + "/api/3/action/package_show?id=" + testDataset
	atomURL      = testBase + "/feeds/dataset/" + testDataset + ".atom"
	currentCSV   = "https://data.gov.ua/dataset/x/resource/r2/download/current.csv"
)

func newTestFetcher(tr *mockTransport, fallback string) *Fetcher {
	src := Source{BaseURL: testBase, DatasetID: testDataset, FallbackURL: fallback}
	return New(tr, src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveResource(t *testing.T) {
	pkg := loadFixture(t, "../../testdata/package_show.json")

	tests := []struct {
		name     string
		routes   map[string]mockResponse
		fallback string
		want     Resource
		wantErr  bool
	}{
		{
			name:   "last csv resource wins",
			routes: map[string]mockResponse{packageURL: {body: pkg, statusCode: 200}},
			want: Resource{
				URL:          currentCSV,
				LastModified: time.Date(2025, 3, 12, 7, 45, 30, 123456000, time.UTC),
			},
		},
		{
			name:     "api down uses fallback",
			routes:   map[string]mockResponse{packageURL: {body: "oops", statusCode: 503}},
			fallback: testFallback,
			want:     Resource{URL: testFallback, Fallback: true},
		},
		{
			name:     "unsuccessful response uses fallback",
			routes:   map[string]mockResponse{packageURL: {body: `{"success":false,"error":{"message":"Not found"}}`, statusCode: 200}},
			fallback: testFallback,
			want:     Resource{URL: testFallback, Fallback: true},
		},
		{
			name:    "api down without fallback",
			routes:  map[string]mockResponse{packageURL: {err: io.ErrUnexpectedEOF}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(&mockTransport{routes: tt.routes}, tt.fallback)
			got, err := f.ResolveResource(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("resource mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePackage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantURL string
		wantErr bool
	}{
		{
			name:    "no csv falls back to last resource",
			body:    `{"success":true,"result":{"resources":[{"url":"https://a/1.xlsx"},{"url":"https://a/2.json"}]}}`,
			wantURL: "https://a/2.json",
		},
		{
			name:    "csv detected by extension",
			body:    `{"success":true,"result":{"resources":[{"url":"https://a/1.CSV"},{"url":"https://a/2.json"}]}}`,
			wantURL: "https://a/1.CSV",
		},
		{
			name:    "no resources",
			body:    `{"success":true,"result":{"resources":[]}}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			body:    `{"success":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePackage([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantURL, got.URL); diff != "" {
				t.Errorf("url mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSourceUpdated(t *testing.T) {
	atom := loadFixture(t, "../../testdata/dataset.atom")

	f := newTestFetcher(&mockTransport{routes: map[string]mockResponse{
		atomURL: {body: atom, statusCode: 200},
	}}, "")
	got, err := f.SourceUpdated(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 12, 7, 45, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("SourceUpdated() = %v, want %v", got, want)
	}

	broken := newTestFetcher(&mockTransport{routes: map[string]mockResponse{
		atomURL: {body: "definitely not a feed", statusCode: 200},
	}}, "")
	if _, err := broken.SourceUpdated(context.Background()); err == nil {
		t.Error("expected error for invalid feed")
	}
}

var sampleRecords = []model.RegistryRecord{
	{Identifier: "12345678", DisplayName: `ТОВ "Альфа"`, EventDate: "05.02.2025"},
	{Identifier: "87654321", DisplayName: "ПП Бета", EventDate: "20.12.2024"},
	{Identifier: "12345678", DisplayName: `ТОВ "Альфа"`, EventDate: "10.03.2025"},
	{Identifier: "00112233", DisplayName: "ФОП Гамма", EventDate: "not a date"},
}

func TestDownload(t *testing.T) {
	csvBody := loadFixture(t, "../../testdata/registry_sample.csv")

	tests := []struct {
		name    string
		resp    mockResponse
		want    *Parsed
		wantErr bool
	}{
		{
			name: "sample registry",
			resp: mockResponse{body: csvBody, statusCode: 200},
			want: &Parsed{Records: sampleRecords, Skipped: 2, Delimiter: ';'},
		},
		{
			name:    "http error status",
			resp:    mockResponse{body: "gone", statusCode: 410},
			wantErr: true,
		},
		{
			name:    "network error",
			resp:    mockResponse{err: io.ErrUnexpectedEOF},
			wantErr: true,
		},
		{
			name:    "unrecognised header",
			resp:    mockResponse{body: "a,b,c\n1,2,3\n", statusCode: 200},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(&mockTransport{routes: map[string]mockResponse{currentCSV: tt.resp}}, "")
			got, err := f.Download(context.Background(), currentCSV)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parsed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeCSV(t *testing.T) {
	cp1251, err := charmap.Windows1251.NewEncoder().String("firm_edrpou;firm_name;date\n1;Банкрут;01.02.2025\n")
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	tests := []struct {
		name        string
		body        []byte
		want        string
		wantCharset string
	}{
		{
			name:        "plain utf-8",
			body:        []byte("firm_edrpou,firm_name,date\n"),
			want:        "firm_edrpou,firm_name,date\n",
			wantCharset: "utf-8",
		},
		{
			name:        "utf-8 with bom",
			body:        []byte("\xef\xbb\xbffirm_edrpou,firm_name,date\n"),
			want:        "firm_edrpou,firm_name,date\n",
			wantCharset: "utf-8",
		},
		{
			name:        "windows-1251",
			body:        []byte(cp1251),
			want:        "firm_edrpou;firm_name;date\n1;Банкрут;01.02.2025\n",
			wantCharset: "windows-1251",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, charset, err := DecodeCSV(tt.body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCharset, charset); diff != "" {
				t.Errorf("charset mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		header string
		want   rune
	}{
		{header: "a;b;c", want: ';'},
		{header: "a,b,c", want: ','},
		{header: "a\tb\tc", want: '\t'},
		{header: `"x,y";"z"`, want: ';'},
		{header: "single", want: ','},
	}
	for _, tt := range tests {
		if got := SniffDelimiter(tt.header); got != tt.want {
			t.Errorf("SniffDelimiter(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestParseRegistryKeywordColumns(t *testing.T) {
	in := "Дата публікації\tКод ЄДРПОУ\tНазва боржника\n" +
		"01.04.2025\t 42 \tТОВ Омега\n" +
		"\t\t\n"

	got, err := ParseRegistry(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &Parsed{
		Records:   []model.RegistryRecord{{Identifier: "42", DisplayName: "ТОВ Омега", EventDate: "01.04.2025"}},
		Skipped:   1,
		Delimiter: '\t',
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parsed mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRegistryEmpty(t *testing.T) {
	if _, err := ParseRegistry(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}

	got, err := ParseRegistry(strings.NewReader("firm_edrpou,firm_name,date\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Records) != 0 {
		t.Errorf("expected no records, got %d", len(got.Records))
	}
}
