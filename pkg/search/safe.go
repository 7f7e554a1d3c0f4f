package search

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
)

const maxSafeInteger = 1<<53 - 1

var (
	maxEngineInt = big.NewInt(math.MaxInt64)
	minEngineInt = big.NewInt(-math.MaxInt64)
	maxSafeBig   = big.NewInt(maxSafeInteger)
	minSafeBig   = big.NewInt(-maxSafeInteger)
)

// ToSafeValue prepares a sort key for a search_after round trip. Integers
// beyond the exactly representable range of a float64 are returned as
// decimal strings clamped to the engine's signed 64 bit range; every other
// value is returned unchanged.
func ToSafeValue(v any) any {
	var n *big.Int
	switch x := v.(type) {
	case int, int8, int16, int32, uint8, uint16, uint32:
		return v
	case int64:
		n = big.NewInt(x)
	case uint:
		n = new(big.Int).SetUint64(uint64(x))
	case uint64:
		n = new(big.Int).SetUint64(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return v
		}
		n, _ = big.NewFloat(x).Int(nil)
	case float32:
		return ToSafeValue(float64(x))
	case json.Number:
		n = parseInteger(string(x))
	case string:
		n = parseInteger(x)
	}
	if n == nil || (n.Cmp(minSafeBig) >= 0 && n.Cmp(maxSafeBig) <= 0) {
		return v
	}
	return clamp(n).String()
}

// ToSafeValues applies ToSafeValue to every element.
func ToSafeValues(values []any) []any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = ToSafeValue(v)
	}
	return out
}

// SafeSortKey encodes the numeric elements of a search_after tuple. Strings
// are keyword sort values and are sent back verbatim, digits or not.
func SafeSortKey(values []any) []any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		if _, ok := v.(string); ok {
			out[i] = v
			continue
		}
		out[i] = ToSafeValue(v)
	}
	return out
}

func clamp(n *big.Int) *big.Int {
	if n.Cmp(maxEngineInt) > 0 {
		return maxEngineInt
	}
	if n.Cmp(minEngineInt) < 0 {
		return minEngineInt
	}
	return n
}

// parseInteger accepts plain integers and integral decimal/exponent forms
// such as "9223372036854776000" or "9.223372036854776e18".
func parseInteger(s string) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return nil
	}
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil || !f.IsInt() {
		return nil
	}
	n, _ := f.Int(nil)
	return n
}
