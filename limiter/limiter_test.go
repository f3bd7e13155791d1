package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

func TestLimiter_Supersedes(t *testing.T) {
	l := New()
	defer l.Close()

	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	started := make(chan struct{})
	release := make(chan struct{})
	d1 := l.Schedule(func(context.Context) error {
		close(started)
		<-release
		record("t1")
		return nil
	})
	<-started

	d2 := l.Schedule(func(context.Context) error {
		record("t2")
		return nil
	})
	d3 := l.Schedule(func(context.Context) error {
		record("t3")
		return nil
	})
	close(release)

	if err := wait(t, d1); err != nil {
		t.Fatalf("t1: %v", err)
	}
	if err := wait(t, d2); err != nil {
		t.Fatalf("t2: %v", err)
	}
	if err := wait(t, d3); err != nil {
		t.Fatalf("t3: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 2 || ran[0] != "t1" || ran[1] != "t3" {
		t.Errorf("ran %v, want [t1 t3]", ran)
	}
}

func TestLimiter_ErrorIsolation(t *testing.T) {
	l := New()
	defer l.Close()

	boom := errors.New("boom")
	if err := wait(t, l.Schedule(func(context.Context) error { return boom })); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if err := wait(t, l.Schedule(func(context.Context) error { panic("bad unit") })); err == nil {
		t.Fatal("panicking unit should report an error")
	}
	if err := wait(t, l.Schedule(func(context.Context) error { return nil })); err != nil {
		t.Fatalf("later unit: %v", err)
	}
}

func TestLimiter_Sequential(t *testing.T) {
	l := New()
	defer l.Close()

	for i := 0; i < 5; i++ {
		n := 0
		err := wait(t, l.Schedule(func(context.Context) error {
			n++
			return nil
		}))
		if err != nil || n != 1 {
			t.Fatalf("unit %d: err=%v runs=%d", i, err, n)
		}
	}
}

func TestLimiter_Close(t *testing.T) {
	l := New()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := false
	d1 := l.Schedule(func(context.Context) error {
		close(started)
		<-release
		finished = true
		return nil
	})
	<-started
	d2 := l.Schedule(func(context.Context) error { return nil })

	l.Close()
	close(release)

	if err := wait(t, d1); err != nil || !finished {
		t.Fatalf("in-flight unit: err=%v finished=%v", err, finished)
	}
	if err := wait(t, d2); !errors.Is(err, ErrClosed) {
		t.Fatalf("queued unit: got %v, want ErrClosed", err)
	}
	if err := wait(t, l.Schedule(func(context.Context) error { return nil })); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close: got %v, want ErrClosed", err)
	}
}
