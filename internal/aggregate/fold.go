package aggregate

import (
	"math"
	"strconv"
	"strings"

	"github.com/arborhq/arbor/internal/types"
)

// Fold computes an aggregate value. size is the number of cards in scope;
// values are the raw source values of the cards that have one set. The
// second result is false when the value is not-set. ignored counts values
// that were not numbers.
func Fold(fn types.AggregateFunction, size int, values []string) (value string, set bool, ignored int) {
	if fn == types.FuncCount {
		return strconv.Itoa(size), true, 0
	}

	var (
		n     int
		acc   float64
		first = true
	)
	for _, raw := range values {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			ignored++
			continue
		}
		n++
		switch fn {
		case types.FuncSum, types.FuncAvg:
			acc += v
		case types.FuncMin:
			if first || v < acc {
				acc = v
			}
		case types.FuncMax:
			if first || v > acc {
				acc = v
			}
		}
		first = false
	}
	if n == 0 {
		return "", false, ignored
	}
	if fn == types.FuncAvg {
		acc /= float64(n)
	}
	return FormatNumber(acc), true, ignored
}

// FormatNumber renders v in the shortest form that parses back exactly.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
