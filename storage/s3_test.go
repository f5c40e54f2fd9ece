package storage

import (
	"testing"
	"time"
)

func TestPayloadKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	got := PayloadKey("Ab12Cd34", "feed-5-2", at)
	want := "raw/20240309/Ab12Cd34/feed-5-2-1710023400.json"
	if got != want {
		t.Fatalf("key = %s, want %s", got, want)
	}
}
