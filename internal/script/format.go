package script

import (
	"math"
	"strconv"
	"strings"
)

// Decimals is the precision floats are rounded to before printing.
const Decimals = 6

func formatFloat(v float64) string {
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func formatList(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = formatFloat(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatPose(vals []float64) string {
	return "p" + formatList(vals)
}

var textEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ", "\r", " ")

func formatString(s string) string {
	return `"` + textEscaper.Replace(s) + `"`
}
