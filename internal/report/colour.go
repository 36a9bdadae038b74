package report

import (
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// rttColour maps rtt onto an HSL hue of 100 minus the RTT in milliseconds:
// green-yellow at 0ms, red from 100ms on. Returned as a hex colour.
func rttColour(rtt time.Duration) string {
	hue := 100 - float64(rtt)/float64(time.Millisecond)
	if hue < 0 {
		hue = 0
	}
	if hue > 100 {
		hue = 100
	}
	return colorful.Hsl(hue, 1, 0.5).Hex()
}
