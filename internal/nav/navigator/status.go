package navigator

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/spatial/r3"
)

// PrettyDistance formats metres with an SI prefix, e.g. "1.2 km".
func PrettyDistance(m float64) string {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return "? m"
	}
	return humanize.SIWithDigits(m, 1, "m")
}

// PrettySpeed formats metres per second with an SI prefix.
func PrettySpeed(v float64) string {
	if math.IsNaN(v) {
		return "? m/s"
	}
	return humanize.SIWithDigits(v, 1, "m/s")
}

// PrettyVec formats a world position for status text.
func PrettyVec(v r3.Vec) string {
	var b strings.Builder
	b.WriteString("{")
	b.WriteString(humanize.FtoaWithDigits(v.X, 0))
	b.WriteString(", ")
	b.WriteString(humanize.FtoaWithDigits(v.Y, 0))
	b.WriteString(", ")
	b.WriteString(humanize.FtoaWithDigits(v.Z, 0))
	b.WriteString("}")
	return b.String()
}
