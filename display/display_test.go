package display_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scgolang/linksync/display"
)

func TestFollowerScrolls(t *testing.T) {
	f := &display.Follower{Steps: 16, Window: 4}
	for _, tc := range []struct {
		progress float64
		step     int
		offset   int
	}{
		{0, 0, 0},
		{3.0 / 16, 3, 0},
		{4.0 / 16, 4, 1},
		{9.5 / 16, 9, 6},
		{15.9 / 16, 15, 12},
		{0.01, 0, 0}, // loop wraps back to the start
		{1, 15, 12},
		{-1, 0, 0},
	} {
		fr := f.Follow(tc.progress)
		if fr.Step != tc.step || fr.Offset != tc.offset {
			t.Fatalf("progress %f: expected step %d offset %d, got step %d offset %d", tc.progress, tc.step, tc.offset, fr.Step, fr.Offset)
		}
	}
}

func TestFollowerWindowLargerThanLoop(t *testing.T) {
	f := &display.Follower{Steps: 4, Window: 8}
	if fr := f.Follow(0.9); fr.Step != 3 || fr.Offset != 0 {
		t.Fatalf("expected step 3 offset 0, got step %d offset %d", fr.Step, fr.Offset)
	}
}

type fakeSource struct {
	mu       sync.Mutex
	progress float64
}

func (s *fakeSource) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *fakeSource) set(p float64) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

func TestPollOnlyReportsChanges(t *testing.T) {
	var (
		src         = &fakeSource{}
		frames      = make(chan display.Frame, 16)
		ctx, cancel = context.WithCancel(context.Background())
		done        = make(chan error, 1)
	)
	go func() {
		done <- display.Poll(ctx, src, &display.Follower{Steps: 8, Window: 8}, time.Millisecond, func(fr display.Frame) {
			frames <- fr
		})
	}()

	if fr := <-frames; fr.Step != 0 {
		t.Fatalf("expected step 0, got %d", fr.Step)
	}
	time.Sleep(20 * time.Millisecond)
	src.set(0.5)
	fr := <-frames
	if fr.Step != 4 {
		t.Fatalf("expected step 4 without repeats of step 0, got %d", fr.Step)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStepBar(t *testing.T) {
	bar := display.StepBar(display.Frame{Step: 5, Offset: 4}, 4)
	if expected, got := 4, strings.Count(bar, "□")+strings.Count(bar, "■"); expected != got {
		t.Fatalf("expected %d cells, got %d in %q", expected, got, bar)
	}
	if !strings.HasPrefix(bar, "□ [black:green]■") {
		t.Fatalf("expected second cell highlighted, got %q", bar)
	}
}
