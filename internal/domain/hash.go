package domain

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// StrategyHash returns the 8-hex-character fingerprint of a normalised
// strategy specification. Clients send the same strategy with ints, floats or
// decimal strings depending on their serialiser; normalisation coerces every
// number to float64 before hashing so all of them collide onto one key.
func StrategyHash(s *Strategy) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return "", err
	}
	normalised := normaliseNumbers(tree)
	// encoding/json sorts map keys, which gives the canonical ordering.
	canonical, err := json.Marshal(normalised)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])[:8], nil
}

// normaliseNumbers walks the decoded JSON tree coercing every json.Number to
// float64 so 10, 10.0 and "1e1" hash identically.
func normaliseNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normaliseNumbers(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normaliseNumbers(val)
		}
		return out
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	default:
		return v
	}
}
