package market

import (
	"testing"
	"time"
)

func TestDirectionWireValues(t *testing.T) {
	if string(Long) != "LONG" || string(Short) != "SHORT" {
		t.Errorf("unexpected direction values: %q %q", Long, Short)
	}
}

func TestTimeframePriorityOrdering(t *testing.T) {
	prev := 0
	for _, tf := range Timeframes {
		if tf.Priority() <= prev {
			t.Errorf("%s: priority %d not above previous %d", tf, tf.Priority(), prev)
		}
		prev = tf.Priority()
	}
	if Timeframe("5m").Priority() != 0 {
		t.Error("unknown timeframe must rank below everything")
	}
}

func TestTimeframeDurations(t *testing.T) {
	cases := map[Timeframe]time.Duration{
		TF15m: 15 * time.Minute,
		TF1h:  time.Hour,
		TF4h:  4 * time.Hour,
		TF1d:  24 * time.Hour,
	}
	for tf, want := range cases {
		if got := tf.Duration(); got != want {
			t.Errorf("%s: expected %v, got %v", tf, want, got)
		}
	}
}

func TestFormatPriceEightDecimals(t *testing.T) {
	if got := FormatPrice(42000.5); got != "42000.50000000" {
		t.Errorf("unexpected wire price: %q", got)
	}
}
