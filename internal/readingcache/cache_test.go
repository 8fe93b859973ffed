package readingcache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/readingcache"
)

var testStart = time.Date(2025, 12, 29, 10, 0, 0, 0, time.UTC)

func cachedReading(deviceID string) *reading.Reading {
	return &reading.Reading{DeviceID: deviceID, Voltage: 220, AutoMode: true, Source: "test"}
}

func TestPutAndLatest(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, time.Minute, 30*time.Second, clk)

	c.Put("d1", cachedReading("d1"))

	got, ok := c.Latest("d1")
	if !ok {
		t.Fatal("Expected cache hit for d1")
	}
	if got.DeviceID != "d1" || got.Voltage != 220 {
		t.Errorf("Unexpected cached reading: %+v", got)
	}
}

func TestLatest_MissForUnknownDevice(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, time.Minute, 30*time.Second, clk)

	if _, ok := c.Latest("never-seen"); ok {
		t.Error("Expected miss for unknown device")
	}
}

func TestLatest_ExpiresAfterTTL(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, time.Minute, 30*time.Second, clk)

	c.Put("d1", cachedReading("d1"))

	clk.Advance(59 * time.Second)
	if _, ok := c.Latest("d1"); !ok {
		t.Error("Expected hit just inside the TTL")
	}

	clk.Advance(time.Second)
	if _, ok := c.Latest("d1"); ok {
		t.Error("Expected miss once the TTL has elapsed")
	}
}

func TestPut_OverwritesPriorEntry(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, time.Minute, 30*time.Second, clk)

	first := cachedReading("d1")
	c.Put("d1", first)

	clk.Advance(55 * time.Second)
	second := cachedReading("d1")
	second.Voltage = 231
	c.Put("d1", second)

	// the refreshed entry outlives the original TTL window
	clk.Advance(30 * time.Second)
	got, ok := c.Latest("d1")
	if !ok {
		t.Fatal("Expected refreshed entry to still be live")
	}
	if got.Voltage != 231 {
		t.Errorf("Expected overwritten value 231, got %f", got.Voltage)
	}
}

func TestCapNeverExceeded(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(5, time.Hour, time.Hour, clk)

	for i := 0; i < 50; i++ {
		clk.Advance(time.Millisecond)
		c.Put(fmt.Sprintf("device-%d", i), cachedReading(fmt.Sprintf("device-%d", i)))
		if c.Len() > 5 {
			t.Fatalf("Cache exceeded cap after put %d: len=%d", i, c.Len())
		}
	}
}

func TestCap_EvictsOldestByRecency(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(3, time.Hour, time.Hour, clk)

	for _, id := range []string{"a", "b", "c"} {
		c.Put(id, cachedReading(id))
		clk.Advance(time.Second)
	}

	// refresh "a" so "b" becomes the oldest
	c.Put("a", cachedReading("a"))
	clk.Advance(time.Second)
	c.Put("d", cachedReading("d"))

	if _, ok := c.Latest("b"); ok {
		t.Error("Expected oldest entry b to be evicted")
	}
	for _, id := range []string{"a", "c", "d"} {
		if _, ok := c.Latest(id); !ok {
			t.Errorf("Expected %s to survive eviction", id)
		}
	}
}

func TestCleanup_PrefersExpiredEntries(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(3, 10*time.Second, time.Hour, clk)

	c.Put("stale-1", cachedReading("stale-1"))
	c.Put("stale-2", cachedReading("stale-2"))

	clk.Advance(11 * time.Second) // both expire
	c.Put("live-1", cachedReading("live-1"))
	clk.Advance(time.Second)
	c.Put("live-2", cachedReading("live-2"))
	clk.Advance(time.Second)
	c.Put("live-3", cachedReading("live-3"))
	clk.Advance(time.Second)
	c.Put("live-4", cachedReading("live-4"))

	// cap is 3: the expired entries must go before any live one
	for _, id := range []string{"live-2", "live-3", "live-4"} {
		if _, ok := c.Latest(id); !ok {
			t.Errorf("Expected live entry %s to survive, expired entries should be dropped first", id)
		}
	}
}

func TestRecent_MostRecentFirst(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, time.Hour, time.Hour, clk)

	for _, id := range []string{"a", "b", "c"} {
		c.Put(id, cachedReading(id))
		clk.Advance(time.Second)
	}

	got := c.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(got))
	}
	order := []string{got[0].DeviceID, got[1].DeviceID, got[2].DeviceID}
	if order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Errorf("Expected order c,b,a, got %v", order)
	}
}

func TestRecent_HonorsLimitAndSkipsExpired(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, 30*time.Second, time.Hour, clk)

	c.Put("old", cachedReading("old"))
	clk.Advance(31 * time.Second)
	c.Put("new-1", cachedReading("new-1"))
	clk.Advance(time.Second)
	c.Put("new-2", cachedReading("new-2"))

	got := c.Recent(1)
	if len(got) != 1 {
		t.Fatalf("Expected 1 reading, got %d", len(got))
	}
	if got[0].DeviceID != "new-2" {
		t.Errorf("Expected new-2, got %s", got[0].DeviceID)
	}

	all := c.Recent(0)
	for _, r := range all {
		if r.DeviceID == "old" {
			t.Error("Expected expired entry to be skipped")
		}
	}
}

func TestLastStored(t *testing.T) {
	clk := testclock.NewClock(testStart)
	c := readingcache.New(10, time.Minute, 30*time.Second, clk)

	c.Put("d1", cachedReading("d1"))
	storedAt := clk.Now()

	clk.Advance(10 * time.Second)
	got, ok := c.LastStored("d1")
	if !ok {
		t.Fatal("Expected stored-at for live entry")
	}
	if !got.Equal(storedAt) {
		t.Errorf("Expected stored-at %v, got %v", storedAt, got)
	}

	clk.Advance(time.Minute)
	if _, ok := c.LastStored("d1"); ok {
		t.Error("Expected no stored-at once entry expired")
	}
}
