package table

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cellgrid-lab/cellgrid/cell"
	"github.com/cellgrid-lab/cellgrid/graph"
	"github.com/cellgrid-lab/cellgrid/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) (*Table, *store.Memory) {
	t.Helper()
	backend := store.NewMemory()
	tb := New(backend)
	require.NoError(t, tb.Open(context.Background()))
	return tb, backend
}

func mustGet(t *testing.T, tb *Table, bucket int, column, key string) cell.Value {
	t.Helper()
	v, err := tb.Get(context.Background(), cell.Addr{Bucket: bucket, Column: column}, key)
	require.NoError(t, err)
	return v
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)
	require.NoError(t, tb.Add(NewPassThrough("Points1")))

	addr := cell.Addr{Bucket: 20140101, Column: "Points1"}
	require.NoError(t, tb.Set(ctx, addr, "game1", cell.NumInt(20)))

	got := mustGet(t, tb, 20140101, "Points1", "game1")
	require.True(t, got.Equal(cell.NumInt(20)), "round trip before any refresh")
}

func TestGetUnknownCellIsAbsent(t *testing.T) {
	tb, _ := newTestTable(t)
	require.NoError(t, tb.Add(NewPassThrough("Points1")))

	got := mustGet(t, tb, 19990101, "Points1", "nope")
	require.True(t, got.IsAbsent())
}

func TestUnregisteredColumnErrors(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	err := tb.Set(ctx, cell.Addr{Bucket: 1, Column: "ghost"}, "k", cell.NumInt(1))
	require.True(t, errors.Is(err, cell.ErrNotFound))

	_, err = tb.Get(ctx, cell.Addr{Bucket: 1, Column: "ghost"}, "k")
	require.True(t, errors.Is(err, cell.ErrNotFound))
}

func TestDuplicateColumnName(t *testing.T) {
	tb, _ := newTestTable(t)
	require.NoError(t, tb.Add(NewPassThrough("Points1")))

	err := tb.Add(NewPassThrough("Points1"))
	require.True(t, errors.Is(err, cell.ErrColumnExists))
}

func TestReservedColumnName(t *testing.T) {
	tb, _ := newTestTable(t)
	require.Error(t, tb.Add(NewPassThrough("~snap:x")))
}

func TestCycleRejectedAtRegistration(t *testing.T) {
	tb, _ := newTestTable(t)

	identity := func(row Row) (cell.Value, error) { return row["a"], nil }
	require.NoError(t, tb.Add(NewRowFormula("a", func(row Row) (cell.Value, error) {
		return row["b"], nil
	}, "b")))

	err := tb.Add(NewRowFormula("b", identity, "a"))
	var cyc *graph.CycleError
	require.ErrorAs(t, err, &cyc)

	// The rejected column must not linger: a fresh, acyclic "b" registers.
	require.NoError(t, tb.Add(NewPassThrough("b")))
}

func TestMissingRequirementFailsRefresh(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)
	require.NoError(t, tb.Add(NewRowFormula("d", func(row Row) (cell.Value, error) {
		return row["ghost"], nil
	}, "ghost")))

	err := tb.Refresh(ctx)
	require.True(t, errors.Is(err, cell.ErrNotFound))
}

func TestDependencyChainPropagatesInOneRefresh(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	require.NoError(t, tb.Add(NewPassThrough("a")))
	require.NoError(t, tb.Add(NewRowFormula("b", func(row Row) (cell.Value, error) {
		n := row["a"].NumberOr(decimal.Zero)
		return cell.Num(n.Add(decimal.NewFromInt(1))), nil
	}, "a")))
	require.NoError(t, tb.Add(NewRowFormula("c", func(row Row) (cell.Value, error) {
		n := row["b"].NumberOr(decimal.Zero)
		return cell.Num(n.Mul(decimal.NewFromInt(2))), nil
	}, "b")))

	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(1)))
	require.NoError(t, tb.Refresh(ctx))

	require.True(t, mustGet(t, tb, 1, "b", "k").Equal(cell.NumInt(2)))
	require.True(t, mustGet(t, tb, 1, "c", "k").Equal(cell.NumInt(4)), "full chain reflected after one refresh")

	// Updating the root re-propagates through the chain.
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(10)))
	require.NoError(t, tb.Refresh(ctx))
	require.True(t, mustGet(t, tb, 1, "c", "k").Equal(cell.NumInt(22)))
}

func TestWinnerScenario(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	require.NoError(t, tb.Add(NewPassThrough("Points1")))
	require.NoError(t, tb.Add(NewPassThrough("Points2")))
	require.NoError(t, tb.Add(NewRowFormula("Winner", func(row Row) (cell.Value, error) {
		p1 := row["Points1"].NumberOr(decimal.Zero)
		p2 := row["Points2"].NumberOr(decimal.Zero)
		if p1.GreaterThan(p2) {
			return cell.Str("1"), nil
		}
		return cell.Str("2"), nil
	}, "Points1", "Points2")))

	for bucket := 2014; bucket <= 2020; bucket++ {
		require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: bucket, Column: "Points1"}, "final", cell.NumInt(20)))
		require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: bucket, Column: "Points2"}, "final", cell.NumInt(16)))
	}
	require.NoError(t, tb.Refresh(ctx))
	require.True(t, mustGet(t, tb, 2014, "Winner", "final").Equal(cell.Str("1")))

	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 2014, Column: "Points2"}, "final", cell.NumInt(100)))
	require.NoError(t, tb.Refresh(ctx))

	require.True(t, mustGet(t, tb, 2014, "Winner", "final").Equal(cell.Str("2")))
	for bucket := 2015; bucket <= 2020; bucket++ {
		require.True(t, mustGet(t, tb, bucket, "Winner", "final").Equal(cell.Str("1")),
			"bucket %d must be untouched", bucket)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	invocations := 0
	require.NoError(t, tb.Add(NewPassThrough("a")))
	require.NoError(t, tb.Add(NewRowFormula("b", func(row Row) (cell.Value, error) {
		invocations++
		return row["a"], nil
	}, "a")))

	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(5)))
	require.NoError(t, tb.Refresh(ctx))
	ran := invocations
	require.Positive(t, ran)

	require.NoError(t, tb.Refresh(ctx))
	require.Equal(t, ran, invocations, "second refresh with nothing dirty must not recompute")
}

func TestFormulaSeesAbsentInputs(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	var sawAbsent bool
	require.NoError(t, tb.Add(NewPassThrough("a")))
	require.NoError(t, tb.Add(NewPassThrough("b")))
	require.NoError(t, tb.Add(NewRowFormula("sum", func(row Row) (cell.Value, error) {
		if row["b"].IsAbsent() {
			sawAbsent = true
		}
		total := row["a"].NumberOr(decimal.Zero).Add(row["b"].NumberOr(decimal.Zero))
		return cell.Num(total), nil
	}, "a", "b")))

	// Only "a" is set; the formula still runs and receives Absent for "b".
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(3)))
	require.NoError(t, tb.Refresh(ctx))

	require.True(t, sawAbsent)
	require.True(t, mustGet(t, tb, 1, "sum", "k").Equal(cell.NumInt(3)))
}

func TestFormulaErrorAbortsRefresh(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	require.NoError(t, tb.Add(NewPassThrough("a")))
	require.NoError(t, tb.Add(NewRowFormula("boom", func(row Row) (cell.Value, error) {
		return cell.None(), fmt.Errorf("bad input")
	}, "a")))

	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(1)))
	err := tb.Refresh(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"boom"`)
	require.Contains(t, err.Error(), "bad input")
}

func TestConstColumnSeedsAndBackfills(t *testing.T) {
	ctx := context.Background()
	tb, _ := newTestTable(t)

	require.NoError(t, tb.Add(NewPassThrough("Team")))

	// Data exists before the const column is registered.
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 2014, Column: "Team"}, "g1", cell.Str("X")))

	require.NoError(t, tb.Add(NewConst("Ones", cell.NumInt(1))))
	require.NoError(t, tb.Refresh(ctx))
	require.True(t, mustGet(t, tb, 2014, "Ones", "g1").Equal(cell.NumInt(1)), "backfill on refresh")

	// New keys are seeded immediately, before any refresh.
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 2015, Column: "Team"}, "g2", cell.Str("Y")))
	require.True(t, mustGet(t, tb, 2015, "Ones", "g2").Equal(cell.NumInt(1)))
}

func TestReadOnlyTable(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	tb := NewWithOptions(backend, Options{ReadOnly: true})
	require.NoError(t, tb.Open(ctx))

	err := tb.Add(NewPassThrough("a"))
	require.True(t, errors.Is(err, cell.ErrReadOnly))

	err = tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(1))
	require.True(t, errors.Is(err, cell.ErrReadOnly))

	require.NoError(t, tb.Refresh(ctx))
	require.NoError(t, tb.Close())
}

func TestCloseExactlyOnce(t *testing.T) {
	tb, _ := newTestTable(t)
	require.NoError(t, tb.Close())
	require.True(t, errors.Is(tb.Close(), cell.ErrClosed))

	err := tb.Set(context.Background(), cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(1))
	require.True(t, errors.Is(err, cell.ErrClosed))
}

func TestCloseRefreshesPendingWork(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	tb := New(backend)
	require.NoError(t, tb.Open(ctx))

	require.NoError(t, tb.Add(NewPassThrough("a")))
	require.NoError(t, tb.Add(NewRowFormula("double", func(row Row) (cell.Value, error) {
		return cell.Num(row["a"].NumberOr(decimal.Zero).Mul(decimal.NewFromInt(2))), nil
	}, "a")))
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(21)))

	// No explicit refresh: close must drain the dirty set and flush.
	require.NoError(t, tb.Close())

	v, ok := backend.PageValue(store.PageID{Bucket: 1, Column: "double"}, "k")
	require.True(t, ok)
	require.True(t, v.Equal(cell.NumInt(42)))
}

// failingBackend wraps Memory to fail metadata saves and count Close calls.
type failingBackend struct {
	*store.Memory
	failMetaSave bool
	closeCalls   int
}

func (b *failingBackend) SaveMeta(ctx context.Context, name string, data []byte) error {
	if b.failMetaSave {
		return fmt.Errorf("disk full")
	}
	return b.Memory.SaveMeta(ctx, name, data)
}

func (b *failingBackend) Close() error {
	b.closeCalls++
	return b.Memory.Close()
}

func TestCloseReleasesBackendOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{Memory: store.NewMemory(), failMetaSave: true}
	tb := New(backend)
	require.NoError(t, tb.Open(ctx))
	require.NoError(t, tb.Add(NewPassThrough("a")))
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "a"}, "k", cell.NumInt(1)))

	require.Error(t, tb.Close(), "bucket index save fails")
	require.Equal(t, 1, backend.closeCalls, "a failed close must still release the backend")
	require.True(t, errors.Is(tb.Close(), cell.ErrClosed))
}

func TestAddRollsBackWhenColumnStateFailsToLoad(t *testing.T) {
	ctx := context.Background()
	tb, backend := newTestTable(t)
	require.NoError(t, tb.Add(NewPassThrough("Team")))
	require.NoError(t, tb.Add(NewConst("Ones", cell.NumInt(1))))

	// A corrupt snapshot index makes the aggregate's state load fail.
	require.NoError(t, backend.SaveMeta(ctx, "snapshots/Appearances", []byte("{")))

	agg := NewWindowedAggregateWithSnapshots("Appearances",
		[]string{"Team", "Ones"},
		[]InputMap{{MatchColumn: "Team", ValueColumn: "Ones"}},
		"Team", 10, 4)
	require.Error(t, tb.Add(agg))

	_, err := tb.Get(ctx, cell.Addr{Bucket: 1, Column: "Appearances"}, "k")
	require.True(t, errors.Is(err, cell.ErrNotFound), "rejected column must not stay registered")

	// No dangling dependency edges either: updates to Team refresh cleanly.
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 1, Column: "Team"}, "k", cell.Str("X")))
	require.NoError(t, tb.Refresh(ctx))
}

func TestReopenRestoresIndexAndValues(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()

	tb := New(backend)
	require.NoError(t, tb.Open(ctx))
	require.NoError(t, tb.Add(NewPassThrough("Points1")))
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 2014, Column: "Points1"}, "g1", cell.NumInt(20)))
	require.NoError(t, tb.Set(ctx, cell.Addr{Bucket: 2016, Column: "Points1"}, "g2", cell.NumInt(7)))
	require.NoError(t, tb.Close())

	reopened := New(backend)
	require.NoError(t, reopened.Open(ctx))
	require.NoError(t, reopened.Add(NewPassThrough("Points1")))

	require.Equal(t, []int{2014, 2016}, reopened.Buckets())
	require.Equal(t, []string{"g1"}, reopened.Keys(2014))
	require.True(t, mustGet(t, reopened, 2014, "Points1", "g1").Equal(cell.NumInt(20)))
	require.True(t, mustGet(t, reopened, 2016, "Points1", "g2").Equal(cell.NumInt(7)))
	require.NoError(t, reopened.Close())
}
