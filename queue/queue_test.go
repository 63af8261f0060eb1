package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/notemill/dbopen"
	_ "modernc.org/sqlite"
)

func testQueue(t *testing.T, opts Options) *Q {
	t.Helper()
	db := dbopen.OpenMemory(t)
	q := New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	return q
}

func TestPublishClaimAck(t *testing.T) {
	q := testQueue(t, Options{})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", FileJob{Path: "/inbox/a.md"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.File.Path != "/inbox/a.md" || job.Attempts != 1 {
		t.Fatalf("job: %+v", job)
	}

	// Claimed job is invisible.
	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if again != nil {
		t.Errorf("claimed invisible job: %+v", again)
	}

	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Errorf("len after ack: %d", n)
	}
}

func TestPublishDedup(t *testing.T) {
	q := testQueue(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Publish(ctx, "same-id", FileJob{Path: "/inbox/a.md"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 1 {
		t.Errorf("duplicate publishes created %d jobs", n)
	}
}

func TestVisibilityExpiryRedelivers(t *testing.T) {
	q := testQueue(t, Options{Visibility: 20 * time.Millisecond})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", FileJob{Path: "/inbox/a.md"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	first, err := q.Claim(ctx)
	if err != nil || first == nil {
		t.Fatalf("first claim: %v %v", first, err)
	}

	time.Sleep(30 * time.Millisecond)

	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second == nil || second.ID != "j1" || second.Attempts != 2 {
		t.Errorf("redelivery: %+v", second)
	}
}

func TestNackMakesVisible(t *testing.T) {
	q := testQueue(t, Options{Visibility: time.Hour})
	ctx := context.Background()

	q.Publish(ctx, "j1", FileJob{Path: "/inbox/a.md"})
	job, _ := q.Claim(ctx)
	if job == nil {
		t.Fatal("claim returned nil")
	}
	if err := q.Nack(ctx, job.ID); err != nil {
		t.Fatalf("nack: %v", err)
	}
	again, err := q.Claim(ctx)
	if err != nil || again == nil {
		t.Fatalf("claim after nack: %v %v", again, err)
	}
}

func TestRunProcessesAndDiscardsPoison(t *testing.T) {
	q := testQueue(t, Options{
		Visibility:   10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Publish(ctx, "ok", FileJob{Path: "/inbox/good.md"})
	q.Publish(ctx, "poison", FileJob{Path: "/inbox/bad.md"})

	var okCount, poisonCount atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 2, func(_ context.Context, j *Job) error {
			if j.File.Path == "/inbox/bad.md" {
				poisonCount.Add(1)
				return errors.New("boom")
			}
			okCount.Add(1)
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for {
		n, err := q.Len(context.Background())
		if err == nil && n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained, %d jobs left", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if okCount.Load() != 1 {
		t.Errorf("good job ran %d times", okCount.Load())
	}
	if poisonCount.Load() > 2 {
		t.Errorf("poison job ran %d times, max attempts 2", poisonCount.Load())
	}
}
