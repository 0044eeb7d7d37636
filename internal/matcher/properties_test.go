package matcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/storage"
)

// env is a fresh store and matcher for a single property evaluation.
type env struct {
	store *storage.SQLite
	m     *Matcher
}

func newEnv() (*env, error) {
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		return nil, err
	}
	return &env{store: s, m: New(s, slog.New(slog.NewTextHandler(io.Discard, nil)))}, nil
}

func (e *env) close() { _ = e.store.Close() }

func (e *env) setup(ctx context.Context, recs []model.RegistryRecord, chats []int64, ids []string) error {
	if err := e.store.ReplaceRegistry(ctx, recs, storage.IngestState{Source: "prop"}); err != nil {
		return err
	}
	for _, chat := range chats {
		for _, id := range ids {
			if _, err := e.store.AddWatch(ctx, chat, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func propParams() *gopter.TestParameters {
	p := gopter.DefaultTestParameters()
	p.MinSuccessfulTests = 40
	return p
}

// genRecord yields records over a small identifier space with dates within
// 20 days of the cutoff, so collisions and boundary dates are frequent.
func genRecord() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 5),
		gen.IntRange(-20, 20),
	).Map(func(vals []interface{}) model.RegistryRecord {
		id := strconv.Itoa(vals[0].(int))
		d := cutoff.AddDate(0, 0, vals[1].(int))
		return model.RegistryRecord{
			Identifier:  id,
			DisplayName: "Company " + id,
			EventDate:   model.FormatEventDate(d),
		}
	})
}

func genWatch() gopter.Gen {
	return gen.SliceOfN(3, gen.IntRange(1, 5).Map(func(i int) string { return strconv.Itoa(i) }))
}

func TestAddWatchIdempotentProperty(t *testing.T) {
	properties := gopter.NewProperties(propParams())

	properties.Property("adding the same identifier twice keeps one entry", prop.ForAll(
		func(chatID int64, id string) (bool, error) {
			ctx := context.Background()
			e, err := newEnv()
			if err != nil {
				return false, err
			}
			defer e.close()

			first, err := e.store.AddWatch(ctx, chatID, id)
			if err != nil {
				return false, err
			}
			second, err := e.store.AddWatch(ctx, chatID, id)
			if err != nil {
				return false, err
			}
			list, err := e.store.ListWatch(ctx, chatID)
			if err != nil {
				return false, err
			}
			return first && !second && cmp.Equal([]string{id}, list), nil
		},
		gen.Int64Range(1, 1<<40),
		gen.IntRange(1, 99999999).Map(func(i int) string { return strconv.Itoa(i) }),
	))

	properties.TestingRun(t)
}

func TestNoDuplicateNotificationProperty(t *testing.T) {
	properties := gopter.NewProperties(propParams())

	properties.Property("a committed match is never returned again", prop.ForAll(
		func(recs []model.RegistryRecord, ids []string) (bool, error) {
			ctx := context.Background()
			e, err := newEnv()
			if err != nil {
				return false, err
			}
			defer e.close()
			if err := e.setup(ctx, recs, []int64{1}, ids); err != nil {
				return false, err
			}

			first, err := e.m.ComputeNewMatches(ctx, 1, cutoff, true)
			if err != nil {
				return false, err
			}
			for _, it := range first.Items {
				if !it.EventDate.After(cutoff) {
					return false, fmt.Errorf("item %v not after cutoff", it)
				}
			}
			second, err := e.m.ComputeNewMatches(ctx, 1, cutoff, true)
			if err != nil {
				return false, err
			}
			return len(second.Items) == 0, nil
		},
		gen.SliceOf(genRecord()),
		genWatch(),
	))

	properties.TestingRun(t)
}

func TestLedgerIsPerSubscriberProperty(t *testing.T) {
	properties := gopter.NewProperties(propParams())

	properties.Property("one subscriber's ledger never hides matches from another", prop.ForAll(
		func(recs []model.RegistryRecord, ids []string) (bool, error) {
			ctx := context.Background()
			e, err := newEnv()
			if err != nil {
				return false, err
			}
			defer e.close()
			if err := e.setup(ctx, recs, []int64{1, 2}, ids); err != nil {
				return false, err
			}

			a, err := e.m.ComputeNewMatches(ctx, 1, cutoff, true)
			if err != nil {
				return false, err
			}
			b, err := e.m.Preview(ctx, 2, cutoff)
			if err != nil {
				return false, err
			}
			return cmp.Equal(a.Items, b.Items), nil
		},
		gen.SliceOf(genRecord()),
		genWatch(),
	))

	properties.TestingRun(t)
}

func TestCutoffBoundaryProperty(t *testing.T) {
	properties := gopter.NewProperties(propParams())

	properties.Property("a filing matches iff it is dated after the cutoff", prop.ForAll(
		func(offset int) (bool, error) {
			ctx := context.Background()
			e, err := newEnv()
			if err != nil {
				return false, err
			}
			defer e.close()
			rec := model.RegistryRecord{
				Identifier:  "77",
				DisplayName: "Boundary",
				EventDate:   model.FormatEventDate(cutoff.AddDate(0, 0, offset)),
			}
			if err := e.setup(ctx, []model.RegistryRecord{rec}, []int64{1}, []string{"77"}); err != nil {
				return false, err
			}
			res, err := e.m.Preview(ctx, 1, cutoff)
			if err != nil {
				return false, err
			}
			return (len(res.Items) == 1) == (offset > 0), nil
		},
		gen.IntRange(-30, 30),
	))

	properties.TestingRun(t)
}

func TestMalformedDateToleranceProperty(t *testing.T) {
	properties := gopter.NewProperties(propParams())

	properties.Property("unparsable dates never match and never fail", prop.ForAll(
		func(raw string) (bool, error) {
			ctx := context.Background()
			e, err := newEnv()
			if err != nil {
				return false, err
			}
			defer e.close()
			recs := []model.RegistryRecord{{Identifier: "5", DisplayName: "Noise", EventDate: raw}}
			if err := e.setup(ctx, recs, []int64{1}, []string{"5"}); err != nil {
				return false, err
			}
			res, err := e.m.ComputeNewMatches(ctx, 1, cutoff, true)
			if err != nil {
				return false, err
			}
			return len(res.Items) == 0 && res.Reason == ReasonNoNewMatches, nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestClearLedgerResetsDeltaProperty(t *testing.T) {
	properties := gopter.NewProperties(propParams())

	properties.Property("after clearing, the full eligible set is returned again", prop.ForAll(
		func(recs []model.RegistryRecord, ids []string) (bool, error) {
			ctx := context.Background()
			e, err := newEnv()
			if err != nil {
				return false, err
			}
			defer e.close()
			if err := e.setup(ctx, recs, []int64{1, 2}, ids); err != nil {
				return false, err
			}

			first, err := e.m.ComputeNewMatches(ctx, 1, cutoff, true)
			if err != nil {
				return false, err
			}
			if _, err := e.m.ComputeNewMatches(ctx, 2, cutoff, true); err != nil {
				return false, err
			}
			if _, err := e.store.ClearLedger(ctx, 1); err != nil {
				return false, err
			}
			again, err := e.m.Preview(ctx, 1, cutoff)
			if err != nil {
				return false, err
			}
			other, err := e.m.Preview(ctx, 2, cutoff)
			if err != nil {
				return false, err
			}
			return cmp.Equal(first.Items, again.Items) && len(other.Items) == 0, nil
		},
		gen.SliceOf(genRecord()),
		genWatch(),
	))

	properties.TestingRun(t)
}
