package research

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := NewLoop()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Schedule(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Close()

	if len(got) != 50 {
		t.Fatalf("expected 50 tasks to run, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order broken at %d: %v", i, got)
		}
	}
}

func TestLoop_ScheduleDoesNotBlock(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	release := make(chan struct{})
	l.Schedule(func() { <-release })

	scheduled := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.Schedule(func() {})
		}
		close(scheduled)
	}()

	select {
	case <-scheduled:
	case <-time.After(time.Second):
		t.Fatal("Schedule blocked behind a running task")
	}
	close(release)
}

func TestLoop_ScheduleAfterCloseStillRuns(t *testing.T) {
	l := NewLoop()
	l.Close()
	l.Close()

	ran := make(chan struct{})
	l.Schedule(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task scheduled after Close never ran")
	}
}

func TestPhaseFlags(t *testing.T) {
	tests := []struct {
		phase Phase
		want  Flags
	}{
		{PhaseIdle, Flags{}},
		{PhaseResearching, Flags{IsResearching: true}},
		{PhaseCompleted, Flags{ResearchComplete: true}},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			if got := tt.phase.Flags(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
