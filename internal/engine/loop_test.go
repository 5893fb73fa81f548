package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoop_RunsInPostOrder(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	for i := 0; i < 5; i++ {
		l.Post(func() { got = append(got, i) })
	}
	go l.Run(ctx, nil, nil)

	if err := l.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("run order = %v, want 0..4", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d functions, want 5", len(got))
	}
}

func TestLoop_CallReturnsError(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, nil, nil)

	want := errors.New("boom")
	if err := l.Call(ctx, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Call() error = %v, want %v", err, want)
	}
}

func TestLoop_StoppedRejectsWork(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx, nil, nil)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	if l.Post(func() {}) {
		t.Error("Post() on a stopped loop = true")
	}
	if err := l.Call(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Call() error = %v, want ErrStopped", err)
	}
}

func TestLoop_CallHonorsContext(t *testing.T) {
	l := NewLoop() // never started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Call(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want DeadlineExceeded", err)
	}
}

func TestLoop_ExtraSource(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extra := make(chan struct{}, 1)
	fired := make(chan struct{})
	go l.Run(ctx, extra, func() { close(fired) })

	extra <- struct{}{}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("extra source not handled")
	}
}
