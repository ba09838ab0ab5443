package clock

import (
	"testing"
	"time"
)

func TestOffsetShiftsNow(t *testing.T) {
	c := New()
	if c.Offset() != 0 {
		t.Fatalf("fresh clock offset = %v", c.Offset())
	}

	c.SetOffset(time.Hour)
	diff := time.Until(c.Now())
	if diff < 59*time.Minute || diff > 61*time.Minute {
		t.Fatalf("shifted clock is %v ahead, want about 1h", diff)
	}

	c.SetOffset(-time.Hour)
	diff = time.Until(c.Now())
	if diff > -59*time.Minute || diff < -61*time.Minute {
		t.Fatalf("shifted clock is %v ahead, want about -1h", diff)
	}
}

func TestNowUnixMilliTracksNow(t *testing.T) {
	c := New()
	c.SetOffset(time.Minute)
	got := c.NowUnixMilli()
	want := time.Now().Add(time.Minute).UnixMilli()
	if got < want-1000 || got > want+1000 {
		t.Fatalf("NowUnixMilli = %d, want about %d", got, want)
	}
}
