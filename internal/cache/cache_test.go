package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/factors"
)

func sampleTable(date time.Time) *factors.Table {
	t := factors.NewTable(date, []string{"000100", "000200"})
	t.AddColumn("PER", []float32{5.5, factors.Null})
	return t
}

func TestKeyFormats(t *testing.T) {
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t,
		"backtest_optimized:factors:2024-03-04:all:a1b2c3d4",
		FactorKey(date, "all", "a1b2c3d4"))

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t,
		"price_data:2023-01-01:2024-01-01:bio,semiconductor:000100,000200",
		PriceKey(start, end, []string{"semiconductor", "bio"}, []string{"000200", "000100"}))
	assert.Equal(t,
		"price_data:2023-01-01:2024-01-01:all:all",
		PriceKey(start, end, nil, nil))

	assert.Equal(t, "backtest_optimized:factors:*:all:a1b2c3d4", FactorPrefix("all", "a1b2c3d4"))
}

func TestCodecRoundTrip(t *testing.T) {
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	table := sampleTable(date)

	blob, err := Encode(table)
	require.NoError(t, err)

	var got factors.Table
	require.NoError(t, Decode(blob, &got))
	assert.Equal(t, table.Stocks, got.Stocks)
	v, ok := got.Value("000100", "PER")
	require.True(t, ok)
	assert.InDelta(t, 5.5, v, 1e-6)
	_, ok = got.Value("000200", "PER")
	assert.False(t, ok, "null must survive the codec")
}

func TestMemoryTierHit(t *testing.T) {
	c := New(nil, DefaultOptions(), zerolog.Nop())
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	key := FactorKey(date, "all", "deadbeef")

	c.PutTables(context.Background(), map[string]*factors.Table{key: sampleTable(date)}, "full")

	found, missing := c.GetTables(context.Background(), []string{key}, "full")
	assert.Len(t, found, 1)
	assert.Empty(t, missing)
}

func TestMaskScopesMemoryTier(t *testing.T) {
	c := New(nil, DefaultOptions(), zerolog.Nop())
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	key := FactorKey(date, "all", "deadbeef")

	c.PutTables(context.Background(), map[string]*factors.Table{key: sampleTable(date)}, "abcd1234")

	_, missing := c.GetTables(context.Background(), []string{key}, "full")
	assert.Equal(t, []string{key}, missing, "a masked table must not satisfy a full request")
}

func TestStrategyHashIsolation(t *testing.T) {
	c := New(nil, DefaultOptions(), zerolog.Nop())
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	keyA := FactorKey(date, "all", "aaaaaaaa")
	keyB := FactorKey(date, "all", "bbbbbbbb")
	require.NotEqual(t, keyA, keyB)

	c.PutTables(context.Background(), map[string]*factors.Table{keyA: sampleTable(date)}, "full")

	found, missing := c.GetTables(context.Background(), []string{keyB}, "full")
	assert.Empty(t, found)
	assert.Equal(t, []string{keyB}, missing)
}

func TestRemoteRoundTrip(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, DefaultOptions(), zerolog.Nop())

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	key := FactorKey(date, "all", "deadbeef")
	table := sampleTable(date)
	blob, err := Encode(table)
	require.NoError(t, err)

	mock.ExpectMSet(key, blob).SetVal("OK")
	mock.ExpectExpire(key, DefaultTTL).SetVal(true)
	c.PutTables(context.Background(), map[string]*factors.Table{key: table}, "full")

	// A fresh cache instance has a cold memory tier and must hit redis.
	c2 := New(rdb, DefaultOptions(), zerolog.Nop())
	mock.ExpectMGet(key).SetVal([]interface{}{string(blob)})
	found, missing := c2.GetTables(context.Background(), []string{key}, "full")
	require.Empty(t, missing)
	require.Contains(t, found, key)
	v, ok := found[key].Value("000100", "PER")
	require.True(t, ok)
	assert.InDelta(t, 5.5, v, 1e-6)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoteMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, DefaultOptions(), zerolog.Nop())

	key := "backtest_optimized:factors:2024-03-04:all:deadbeef"
	mock.ExpectMGet(key).SetVal([]interface{}{nil})
	found, missing := c.GetTables(context.Background(), []string{key}, "full")
	assert.Empty(t, found)
	assert.Equal(t, []string{key}, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoteErrorDegradesToMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, DefaultOptions(), zerolog.Nop())

	key := "backtest_optimized:factors:2024-03-04:all:deadbeef"
	mock.ExpectMGet(key).SetErr(errors.New("connection refused"))
	found, missing := c.GetTables(context.Background(), []string{key}, "full")
	assert.Empty(t, found)
	assert.Equal(t, []string{key}, missing, "remote failure must degrade to a miss")
}

func TestCorruptBlobDegradesToMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, DefaultOptions(), zerolog.Nop())

	key := "backtest_optimized:factors:2024-03-04:all:deadbeef"
	mock.ExpectMGet(key).SetVal([]interface{}{"not an lz4 frame"})
	found, missing := c.GetTables(context.Background(), []string{key}, "full")
	assert.Empty(t, found)
	assert.Equal(t, []string{key}, missing)
}

func TestPriceWindowRoundTrip(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, DefaultOptions(), zerolog.Nop())

	bars := []domain.PriceBar{{
		Stock: "000100",
		Date:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:  100, High: 110, Low: 95, Close: 105, Volume: 1000,
	}}
	blob, err := Encode(bars)
	require.NoError(t, err)

	key := PriceKey(bars[0].Date, bars[0].Date, nil, []string{"000100"})
	mock.ExpectSet(key, blob, DefaultTTL).SetVal("OK")
	c.PutPrices(context.Background(), key, bars)

	mock.ExpectGet(key).SetVal(string(blob))
	got, ok := c.GetPrices(context.Background(), key)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, bars[0].Stock, got[0].Stock)
	assert.Equal(t, bars[0].Close, got[0].Close)

	mock.ExpectGet(key).RedisNil()
	_, ok = c.GetPrices(context.Background(), key)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, DefaultOptions(), zerolog.Nop())

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	key := FactorKey(date, "all", "deadbeef")
	c.PutTables(context.Background(), map[string]*factors.Table{key: sampleTable(date)}, "full")

	pattern := FactorPrefix("all", "deadbeef")
	mock.ExpectScan(0, pattern, 500).SetVal([]string{key}, 0)
	mock.ExpectDel(key).SetVal(1)
	require.NoError(t, c.Invalidate(context.Background(), pattern))

	// The memory tier is purged as well.
	mock.ExpectMGet(key).SetVal([]interface{}{nil})
	_, missing := c.GetTables(context.Background(), []string{key}, "full")
	assert.Equal(t, []string{key}, missing)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLRUEviction(t *testing.T) {
	c := newLRU(3)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("k%d", i), sampleTable(date))
	}
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest entry must be evicted")
	_, ok = c.Get("k3")
	assert.True(t, ok)

	// Touching k1 protects it from the next eviction.
	_, ok = c.Get("k1")
	require.True(t, ok)
	c.Put("k4", sampleTable(date))
	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k2")
	assert.False(t, ok)
}
