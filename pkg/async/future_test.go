package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mahaj/chatcore/pkg/chaterr"
)

func TestAwaitAndThenSeeSameResult(t *testing.T) {
	release := make(chan struct{})
	f := Go(func() (int, error) {
		<-release
		return 42, nil
	})

	got := make(chan int, 1)
	f.Then(func(v int, err error) {
		if err != nil {
			t.Errorf("callback error: %v", err)
		}
		got <- v
	})
	close(release)

	v, err := f.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Await = %d, %v", v, err)
	}
	select {
	case cv := <-got:
		if cv != 42 {
			t.Fatalf("callback got %d", cv)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestPanicResolvesWithUnknown(t *testing.T) {
	f := Go(func() (string, error) { panic("boom") })
	_, err := f.Await(context.Background())
	if !errors.Is(err, chaterr.ErrUnknown) {
		t.Fatalf("expected unknown error, got %v", err)
	}
}

func TestResolveOnlyOnce(t *testing.T) {
	f := New[int]()
	f.Resolve(1, nil)
	f.Resolve(2, errors.New("late"))
	v, err := f.Await(context.Background())
	if v != 1 || err != nil {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
