package fingerprint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tldrify/core/internal/models"
)

func baseRequest(payload string) *models.SummarizeRequest {
	return &models.SummarizeRequest{
		RequestID: "r1",
		UserID:    "u1",
		Payload:   payload,
		Method:    models.MethodExtractive,
		Options:   models.SummaryOptions{MaxLength: 200, Style: models.StyleBalanced},
	}
}

func TestFingerprintStableAcrossWhitespace(t *testing.T) {
	a := Fingerprint(baseRequest("The quick   brown fox.\n\nJumps over the dog."))
	b := Fingerprint(baseRequest("The quick brown fox. Jumps over the dog."))
	if a != b {
		t.Fatal("whitespace variants produced different fingerprints")
	}
}

func TestFingerprintUnicodeNormalization(t *testing.T) {
	// é as a single codepoint vs e + combining acute.
	a := Fingerprint(baseRequest("caf\u00e9 culture in spring"))
	b := Fingerprint(baseRequest("cafe\u0301 culture in spring"))
	if a != b {
		t.Fatal("NFC-equivalent payloads produced different fingerprints")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := baseRequest("Stable payload for sensitivity checks.")
	ref := Fingerprint(base)

	changed := *base
	changed.Method = models.MethodRanked
	if Fingerprint(&changed) == ref {
		t.Error("method change did not alter fingerprint")
	}

	changed = *base
	changed.Options.MaxLength = 300
	if Fingerprint(&changed) == ref {
		t.Error("max_length change did not alter fingerprint")
	}

	changed = *base
	changed.Options.FocusAreas = []string{"economy"}
	if Fingerprint(&changed) == ref {
		t.Error("focus_areas change did not alter fingerprint")
	}
}

func TestFingerprintIgnoresDispatchKnobs(t *testing.T) {
	base := baseRequest("Dispatch knobs must not shape the cache key.")
	ref := Fingerprint(base)

	changed := *base
	changed.Options.SyncPreferred = true
	changed.Priority = 1
	changed.RequestID = "other"
	changed.UserID = "someone-else"
	if Fingerprint(&changed) != ref {
		t.Fatal("sync_preferred/priority/identity leaked into the fingerprint")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	base := time.Now()
	c.now = func() time.Time { return base }

	result := models.SummaryResult{Summary: "cached summary"}
	if err := c.Store(ctx, "h1", result, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entry, err := c.Lookup(ctx, "h1")
	if err != nil || entry == nil || entry.Result.Summary != "cached summary" {
		t.Fatalf("Lookup = %+v, %v", entry, err)
	}

	c.now = func() time.Time { return base.Add(time.Minute) }
	entry, err = c.Lookup(ctx, "h1")
	if err != nil || entry != nil {
		t.Fatalf("expired Lookup = %+v, %v, want miss", entry, err)
	}
}

func TestMemoryCacheMissIsNil(t *testing.T) {
	entry, err := NewMemoryCache().Lookup(context.Background(), "absent")
	if err != nil || entry != nil {
		t.Fatalf("Lookup = %+v, %v, want (nil, nil)", entry, err)
	}
}

func TestFlightsLeaderAndFollowers(t *testing.T) {
	f := NewFlights()
	if !f.Join("h1") {
		t.Fatal("first Join was not leader")
	}
	if f.Join("h1") {
		t.Fatal("second Join stole leadership")
	}

	result := &models.SummaryResult{Summary: "shared"}
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.Wait(context.Background(), "h1")
			if err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			outcomes[i] = out
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	f.Resolve("h1", result, nil)
	wg.Wait()

	for i, out := range outcomes {
		if out.Result != result || out.Err != nil {
			t.Fatalf("follower %d outcome = %+v", i, out)
		}
	}

	// The hash is free again after resolution.
	if !f.Join("h1") {
		t.Fatal("Join after Resolve was not leader")
	}
	f.Resolve("h1", nil, nil)
}

func TestFlightsWaitHonoursContext(t *testing.T) {
	f := NewFlights()
	f.Join("h1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx, "h1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}
	f.Resolve("h1", nil, nil)
}

func TestFlightsWaitWithoutFlight(t *testing.T) {
	f := NewFlights()
	_, err := f.Wait(context.Background(), "never-joined")
	if !errors.Is(err, ErrNoFlight) {
		t.Fatalf("err = %v, want ErrNoFlight", err)
	}
}
