package factors

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/crucial-sub/stocklab/internal/domain"
)

// ComputeMask is the set of factors a strategy references. A nil or empty
// mask means "compute everything".
type ComputeMask map[string]bool

// Key returns a short stable fingerprint of the mask, used in cache keys so
// differently-masked tables never collide.
func (m ComputeMask) Key() string {
	if len(m) == 0 {
		return "full"
	}
	wanted := make([]string, 0, len(m))
	for f, on := range m {
		if on {
			wanted = append(wanted, f)
		}
	}
	sort.Strings(wanted)
	sum := md5.Sum([]byte(strings.Join(wanted, ",")))
	return hex.EncodeToString(sum[:])[:8]
}

// Wants reports whether factor must be computed.
func (m ComputeMask) Wants(factor string) bool {
	if len(m) == 0 {
		return true
	}
	return m[factor]
}

// WantsFamily reports whether any member of the family is masked in.
func (m ComputeMask) WantsFamily(f Family) bool {
	if len(m) == 0 {
		return true
	}
	for _, name := range byFamily[f] {
		if m[name] {
			return true
		}
	}
	return false
}

// Factors returns the masked-in factor names, sorted.
func (m ComputeMask) Factors() []string {
	if len(m) == 0 {
		return Names()
	}
	out := make([]string, 0, len(m))
	for f, on := range m {
		if on {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

var identPattern = regexp.MustCompile(`[A-Z][A-Z0-9_]*`)

// boolean keywords that look like factor identifiers but are not.
var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "TRUE": true, "FALSE": true,
}

// Analyse extracts every factor name a strategy's buy and sell rules
// reference and returns the compute mask. Unknown uppercase identifiers are
// included defensively rather than dropped, so a catalogue lag never silently
// turns a condition into a constant.
func Analyse(s *domain.Strategy) ComputeMask {
	mask := make(ComputeMask)

	addConditions := func(conds []domain.Condition) {
		for _, c := range conds {
			if c.Factor != "" {
				mask[c.Factor] = true
			}
			for _, name := range markerFactors(c.ExpLeftSide) {
				mask[name] = true
			}
		}
	}

	addConditions(s.BuyConditions)
	addConditions(s.SellConditions)
	if s.BuyExpression != nil {
		addConditions(s.BuyExpression.Conditions)
	}
	if s.ConditionSell != nil {
		addConditions(s.ConditionSell.Conditions)
	}
	if s.PriorityFactor != "" {
		mask[s.PriorityFactor] = true
	}
	return mask
}

// markerFactors scans a free-form expression left side for {FACTOR} markers
// and bare uppercase identifiers.
func markerFactors(exp string) []string {
	if exp == "" {
		return nil
	}
	var out []string
	for _, tok := range identPattern.FindAllString(exp, -1) {
		if keywords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}
