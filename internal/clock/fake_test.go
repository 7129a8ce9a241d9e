package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeSleepAdvancesAndRecords(t *testing.T) {
	start := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	if err := c.Sleep(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	c.Advance(time.Second)
	if err := c.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Sleep: %v", err)
	}

	if got, want := c.Now(), start.Add(8*time.Second); !got.Equal(want) {
		t.Fatalf("Now = %v, want %v", got, want)
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 5*time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
}

func TestFakeSleepHonorsCanceledContext(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if len(c.Sleeps()) != 0 {
		t.Fatal("canceled sleep must not be recorded")
	}
}

func TestRealSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Real().Sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected deadline error")
	}
}
