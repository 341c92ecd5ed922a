package domain

import "sort"

// Markets of the Korean exchange.
const (
	MarketKOSPI  = "KOSPI"
	MarketKOSDAQ = "KOSDAQ"
)

// UniverseID names one market-cap bucket within a market.
type UniverseID string

const (
	KOSPIMega   UniverseID = "KOSPI_MEGA"
	KOSPILarge  UniverseID = "KOSPI_LARGE"
	KOSPIMid    UniverseID = "KOSPI_MID"
	KOSPISmall  UniverseID = "KOSPI_SMALL"
	KOSDAQMega  UniverseID = "KOSDAQ_MEGA"
	KOSDAQLarge UniverseID = "KOSDAQ_LARGE"
	KOSDAQMid   UniverseID = "KOSDAQ_MID"
	KOSDAQSmall UniverseID = "KOSDAQ_SMALL"
)

// Bucket boundaries by market-cap rank within a market, following the KRX
// size-index convention (large = top 100, mid = next 200) with the ten
// biggest names carved out as mega caps.
const (
	megaRank  = 10
	largeRank = 100
	midRank   = 300
)

// universeOrder fixes the presentation order of the catalogue.
var universeOrder = []UniverseID{
	KOSPIMega, KOSPILarge, KOSPIMid, KOSPISmall,
	KOSDAQMega, KOSDAQLarge, KOSDAQMid, KOSDAQSmall,
}

var universeNames = map[UniverseID]string{
	KOSPIMega:   "KOSPI Mega Cap",
	KOSPILarge:  "KOSPI Large Cap",
	KOSPIMid:    "KOSPI Mid Cap",
	KOSPISmall:  "KOSPI Small Cap",
	KOSDAQMega:  "KOSDAQ Mega Cap",
	KOSDAQLarge: "KOSDAQ Large Cap",
	KOSDAQMid:   "KOSDAQ Mid Cap",
	KOSDAQSmall: "KOSDAQ Small Cap",
}

// KnownUniverse reports whether id names one of the eight buckets.
func KnownUniverse(id string) bool {
	_, ok := universeNames[UniverseID(id)]
	return ok
}

// UniverseStock is one stock's market listing and capitalisation on a
// universe snapshot date.
type UniverseStock struct {
	Stock     string  `json:"stock" db:"stock_code"`
	Market    string  `json:"market" db:"market"`
	MarketCap float64 `json:"market_cap" db:"market_cap"`
}

// Universe summarises one bucket for the catalogue endpoint.
type Universe struct {
	ID         UniverseID `json:"id"`
	Name       string     `json:"name"`
	Market     string     `json:"market"`
	StockCount int        `json:"stock_count"`
	MinCap     float64    `json:"min_cap"`
	MaxCap     float64    `json:"max_cap"`
}

func (id UniverseID) market() string {
	if id == KOSPIMega || id == KOSPILarge || id == KOSPIMid || id == KOSPISmall {
		return MarketKOSPI
	}
	return MarketKOSDAQ
}

func bucketFor(market string, rank int) UniverseID {
	var ids [4]UniverseID
	if market == MarketKOSPI {
		ids = [4]UniverseID{KOSPIMega, KOSPILarge, KOSPIMid, KOSPISmall}
	} else {
		ids = [4]UniverseID{KOSDAQMega, KOSDAQLarge, KOSDAQMid, KOSDAQSmall}
	}
	switch {
	case rank <= megaRank:
		return ids[0]
	case rank <= largeRank:
		return ids[1]
	case rank <= midRank:
		return ids[2]
	default:
		return ids[3]
	}
}

// AssignUniverses maps each stock to its bucket. Stocks on an unrecognised
// market or without a positive cap are left out. Ranking is cap-descending
// within each market, ties broken by stock code for determinism.
func AssignUniverses(stocks []UniverseStock) map[string]UniverseID {
	byMarket := map[string][]UniverseStock{}
	for _, s := range stocks {
		if (s.Market != MarketKOSPI && s.Market != MarketKOSDAQ) || s.MarketCap <= 0 {
			continue
		}
		byMarket[s.Market] = append(byMarket[s.Market], s)
	}

	out := make(map[string]UniverseID, len(stocks))
	for market, members := range byMarket {
		sort.Slice(members, func(i, j int) bool {
			if members[i].MarketCap != members[j].MarketCap {
				return members[i].MarketCap > members[j].MarketCap
			}
			return members[i].Stock < members[j].Stock
		})
		for i, s := range members {
			out[s.Stock] = bucketFor(market, i+1)
		}
	}
	return out
}

// BuildUniverses produces the eight bucket summaries in catalogue order.
// Empty buckets appear with a zero count and zero cap bounds.
func BuildUniverses(stocks []UniverseStock) []Universe {
	assigned := AssignUniverses(stocks)
	capOf := make(map[string]float64, len(stocks))
	for _, s := range stocks {
		capOf[s.Stock] = s.MarketCap
	}

	agg := map[UniverseID]*Universe{}
	for id := range universeNames {
		agg[id] = &Universe{ID: id, Name: universeNames[id], Market: id.market()}
	}
	for stock, id := range assigned {
		u := agg[id]
		c := capOf[stock]
		if u.StockCount == 0 || c < u.MinCap {
			u.MinCap = c
		}
		if c > u.MaxCap {
			u.MaxCap = c
		}
		u.StockCount++
	}

	out := make([]Universe, 0, len(universeOrder))
	for _, id := range universeOrder {
		out = append(out, *agg[id])
	}
	return out
}
