package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAggregate_MixedDates(t *testing.T) {
	src := BytesSource("crimes.csv", []byte(
		"発生年月日,市町村名,手口\n"+
			"2019-05-01,今治市,ひったくり\n"+
			"2018-03-01,松山市,自転車盗\n"+
			",上島町,車上ねらい\n"))

	ds, report := NewAggregator(2019, zap.NewNop()).Aggregate(context.Background(), []Source{src})

	require.NotNil(t, ds)
	require.Len(t, ds.Records, 2)
	assert.Equal(t, 2019, ds.Records[0].OccurredOn.Year())
	assert.Equal(t, "今治市", ds.Records[0].Locality)
	assert.Nil(t, ds.Records[1].OccurredOn, "absent dates are kept, never synthesized")
	assert.Equal(t, "車上ねらい", ds.Records[1].IncidentType)

	assert.Equal(t, 2, report.Records)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, 3, report.Sources[0].Rows)
	assert.Equal(t, 2, report.Sources[0].Kept)
	assert.Empty(t, report.Failed())
}

func TestAggregate_MissingColumns(t *testing.T) {
	t.Run("type from filename", func(t *testing.T) {
		src := BytesSource("data/38_zitensyatou_2019.csv", []byte("発生年月日,市町村名\n2019-06-01,今治市\n"))

		ds, _ := NewAggregator(2019, nil).Aggregate(context.Background(), []Source{src})

		require.Equal(t, 1, ds.Len())
		assert.Equal(t, "自転車盗", ds.Records[0].IncidentType)
	})

	t.Run("unknown type and no locality", func(t *testing.T) {
		src := BytesSource("misc.csv", []byte("発生年月日,件数\n2019-06-01,1\n"))

		ds, _ := NewAggregator(2019, nil).Aggregate(context.Background(), []Source{src})

		require.Equal(t, 1, ds.Len())
		assert.Equal(t, UnknownType, ds.Records[0].IncidentType)
		assert.Equal(t, "", ds.Records[0].Locality)
	})

	t.Run("no date column keeps every row undated", func(t *testing.T) {
		src := BytesSource("hittakuri.csv", []byte("市町村名\n今治市\n松山市\n"))

		ds, _ := NewAggregator(2019, nil).Aggregate(context.Background(), []Source{src})

		require.Equal(t, 2, ds.Len())
		for _, r := range ds.Records {
			assert.Nil(t, r.OccurredOn)
			assert.Equal(t, "ひったくり", r.IncidentType)
		}
	})
}

func TestAggregate_PartialFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	broken := Source{Name: "broken.csv", Open: func() ([]byte, error) { return nil, errors.New("permission denied") }}
	empty := BytesSource("empty.csv", nil)
	good := BytesSource("good.csv", []byte("date,city,type\n2019-01-05,Imabari,ひったくり\n"))

	ds, report := NewAggregator(2019, zap.New(core)).Aggregate(context.Background(), []Source{broken, empty, good})

	require.Equal(t, 1, ds.Len())
	assert.Equal(t, "Imabari", ds.Records[0].Locality)

	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "broken.csv", failed[0].Name)
	assert.Equal(t, "empty.csv", failed[1].Name)

	var ie *IngestError
	require.True(t, errors.As(failed[1].Err, &ie))
	assert.Equal(t, "empty.csv", ie.Source)

	assert.Equal(t, 2, logs.FilterMessage("historical source skipped").Len())
}

func TestWithSource(t *testing.T) {
	t.Run("wrapped ingest error is named", func(t *testing.T) {
		inner := &IngestError{Err: ErrEmptyTable}
		err := withSource(fmt.Errorf("read table: %w", inner), "wrapped.csv")

		var ie *IngestError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, "wrapped.csv", ie.Source)
		assert.ErrorIs(t, err, ErrEmptyTable)
	})

	t.Run("plain error is wrapped", func(t *testing.T) {
		cause := errors.New("short read")
		err := withSource(cause, "plain.csv")

		var ie *IngestError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, "plain.csv", ie.Source)
		assert.ErrorIs(t, err, cause)
	})
}

func TestAggregate_ConcatenatesInSourceOrder(t *testing.T) {
	a := BytesSource("a.csv", []byte("date,city\n2019-02-01,A1\n2019-02-02,A2\n"))
	b := BytesSource("b.csv", []byte("date,city\n2019-03-01,B1\n"))

	ds, _ := NewAggregator(2019, nil).Aggregate(context.Background(), []Source{b, a})

	var got []string
	for _, r := range ds.Records {
		got = append(got, r.Locality)
	}
	assert.Equal(t, []string{"B1", "A1", "A2"}, got)
}

func TestAggregate_NoSources(t *testing.T) {
	ds, report := NewAggregator(2019, nil).Aggregate(context.Background(), nil)

	assert.Nil(t, ds)
	assert.Zero(t, report.Records)
	assert.Empty(t, report.Sources)
}

func TestAggregate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := BytesSource("a.csv", []byte("date\n2019-02-01\n"))

	ds, report := NewAggregator(2019, nil).Aggregate(ctx, []Source{src})

	assert.Zero(t, ds.Len())
	require.Len(t, report.Failed(), 1)
	assert.ErrorIs(t, report.Failed()[0].Err, context.Canceled)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_hittakuri.csv", "a_zitensyatou.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("date\n2019-01-01\n"), 0o600))
	}

	sources, err := Discover(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, filepath.Join(dir, "a_zitensyatou.csv"), sources[0].Name)
	assert.Equal(t, filepath.Join(dir, "b_hittakuri.csv"), sources[1].Name)

	raw, err := sources[0].Open()
	require.NoError(t, err)
	assert.Equal(t, "date\n2019-01-01\n", string(raw))

	_, err = Discover("[")
	assert.Error(t, err)
}
