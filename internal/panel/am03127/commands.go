// Package am03127 formats commands for AM03127-protocol LED signage panels.
// Formatting is pure; the serial exchange lives in the parent panel package.
package am03127

import (
	"fmt"
	"time"
)

// SetID builds the broadcast command that assigns a panel its address.
func SetID(id byte) string {
	return fmt.Sprintf("<ID><%02X>", id)
}

// Page builds a display-page command: the text is shown on the given line
// under the given page label with the panel's default effects.
func Page(id byte, line int, page rune, text string) string {
	payload := fmt.Sprintf("<L%d><P%c><FE><MA><WC><FE>%s", line, page, text)

	return frame(id, payload)
}

// Clock builds the set-real-time-clock command. The panel expects two-digit
// year, ISO weekday, then month, day, hour, minute, second.
func Clock(id byte, t time.Time) string {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}

	payload := fmt.Sprintf("<SC>%02d%d%02d%02d%02d%02d%02d",
		t.Year()%100, weekday, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	return frame(id, payload)
}

// frame wraps a payload with the addressed header, XOR checksum and
// end-of-frame marker.
func frame(id byte, payload string) string {
	return fmt.Sprintf("<ID%02X>%s%02X<E>", id, payload, checksum(payload))
}

func checksum(payload string) byte {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}

	return sum
}
