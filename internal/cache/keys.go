// Package cache is the two-tier factor and price cache: an in-process LRU of
// decoded tables in front of redis holding msgpack+lz4 blobs.
package cache

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	factorPrefix = "backtest_optimized:factors"
	pricePrefix  = "price_data"
)

// DefaultTTL is the redis expiry for cached factor tables and price windows.
const DefaultTTL = 30 * 24 * time.Hour

// FactorKey builds the redis key for one date's factor table.
// Layout: backtest_optimized:factors:{YYYY-MM-DD}:{universe}:{hash8}.
func FactorKey(date time.Time, universeKey, strategyHash string) string {
	return fmt.Sprintf("%s:%s:%s:%s", factorPrefix, date.Format("2006-01-02"), universeKey, strategyHash)
}

// FactorPrefix returns the key prefix covering every date of a universe and
// strategy hash, for invalidation.
func FactorPrefix(universeKey, strategyHash string) string {
	return fmt.Sprintf("%s:*:%s:%s", factorPrefix, universeKey, strategyHash)
}

// PriceKey builds the redis key for a loaded price window.
// Layout: price_data:{start}:{end}:{themes}:{stocks}.
func PriceKey(start, end time.Time, themes, stocks []string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		pricePrefix,
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
		sortedList(themes),
		sortedList(stocks),
	)
}

func sortedList(items []string) string {
	if len(items) == 0 {
		return "all"
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// memoryKey scopes the in-process tier by key plus compute-mask identity so a
// partial table is never served where a fuller one is wanted.
func memoryKey(redisKey, maskKey string) string {
	return redisKey + "|" + maskKey
}
