package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimer_Fires(t *testing.T) {
	tm := NewSimpleTimer()
	defer tm.Stop()

	done := make(chan struct{})
	id, err := tm.ScheduleAfter(10*time.Millisecond, func() { close(done) })
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected timer id")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	// the entry is removed before the callback runs
	if n := len(tm.ListActive()); n != 0 {
		t.Errorf("expected no active timers, got %d", n)
	}
}

func TestSimpleTimer_Cancel(t *testing.T) {
	tm := NewSimpleTimer()
	var fired atomic.Bool
	id, _ := tm.ScheduleNamed(50*time.Millisecond, "reading for 1", func() { fired.Store(true) })

	active := tm.ListActive()
	if len(active) != 1 || active[0].Description != "reading for 1" {
		t.Fatalf("unexpected active timers: %+v", active)
	}
	if err := tm.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := tm.Cancel("timer_missing"); err != nil {
		t.Errorf("Cancel of unknown id returned %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestSimpleTimer_RecoversPanic(t *testing.T) {
	tm := NewSimpleTimer()
	done := make(chan struct{})
	tm.ScheduleAfter(0, func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSimpleTimer_NilCallback(t *testing.T) {
	if _, err := NewSimpleTimer().ScheduleAfter(time.Second, nil); err == nil {
		t.Error("expected error for nil callback")
	}
}

func TestSimpleTimer_Stop(t *testing.T) {
	tm := NewSimpleTimer()
	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		tm.ScheduleAfter(50*time.Millisecond, func() { fired.Add(1) })
	}
	tm.Stop()
	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", fired.Load())
	}
}
