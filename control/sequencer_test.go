package control

import (
	"errors"
	"testing"
	"time"
)

func TestPollUntilReturnsNilOnImmediateDone(t *testing.T) {
	abort := make(chan struct{})
	calls := 0
	err := pollUntil(abort, time.Millisecond, func() (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("pollUntil: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPollUntilRetriesUntilDone(t *testing.T) {
	abort := make(chan struct{})
	calls := 0
	err := pollUntil(abort, time.Millisecond, func() (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("pollUntil: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPollUntilPropagatesStepError(t *testing.T) {
	abort := make(chan struct{})
	wantErr := errors.New("boom")
	err := pollUntil(abort, time.Millisecond, func() (bool, error) {
		return false, wantErr
	})
	if err != wantErr {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestPollUntilAbortsBeforeFirstStep(t *testing.T) {
	abort := make(chan struct{})
	close(abort)
	called := false
	err := pollUntil(abort, time.Millisecond, func() (bool, error) {
		called = true
		return true, nil
	})
	if err != errAborted {
		t.Errorf("got %v, want errAborted", err)
	}
	if called {
		t.Error("step should not be called once aborted")
	}
}

func TestPollUntilAbortsMidway(t *testing.T) {
	abort := make(chan struct{})
	calls := 0
	err := pollUntil(abort, time.Millisecond, func() (bool, error) {
		calls++
		if calls == 2 {
			close(abort)
		}
		return false, nil
	})
	if err != errAborted {
		t.Errorf("got %v, want errAborted", err)
	}
}
