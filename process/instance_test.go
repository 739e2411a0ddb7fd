package process

import (
	"sync"
	"testing"
)

func TestMarkExited(t *testing.T) {
	tests := []struct {
		name        string
		path        []State
		wantFrom    State
		wantTo      State
		crashedFrom State
	}{
		{name: "exit while stopping", path: []State{StateReady, StateStopping}, wantFrom: StateStopping, wantTo: StateStopped},
		{name: "crash after ready", path: []State{StateReady}, wantFrom: StateReady, wantTo: StateCrashed, crashedFrom: StateReady},
		{name: "crash while starting", wantFrom: StateStarting, wantTo: StateCrashed, crashedFrom: StateStarting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newInstance(StartRequest{SuiteID: "dashboard"}, "http://127.0.0.1:1", 20)
			for _, s := range tt.path {
				if !inst.transition(s) {
					t.Fatalf("transition to %s refused", s)
				}
			}
			var notified []State
			inst.onTransition = func(from, to State) { notified = append(notified, from, to) }

			from, to := inst.markExited(nil)
			if from != tt.wantFrom || to != tt.wantTo {
				t.Fatalf("expected %s -> %s, got %s -> %s", tt.wantFrom, tt.wantTo, from, to)
			}
			if inst.State() != tt.wantTo || !inst.HasExited() {
				t.Errorf("unexpected state %s, exited=%v", inst.State(), inst.HasExited())
			}
			if len(notified) != 2 || notified[0] != tt.wantFrom || notified[1] != tt.wantTo {
				t.Errorf("unexpected notification %v", notified)
			}
			got, ok := inst.CrashedFrom()
			if ok != (tt.wantTo == StateCrashed) || (ok && got != tt.crashedFrom) {
				t.Errorf("unexpected crashed-from %s, %v", got, ok)
			}
		})
	}
}

// A stop racing the exit must either land before it (stopped) or be refused
// after it (crashed). It can never leave the instance in stopping.
func TestMarkExited_RacingStop(t *testing.T) {
	for n := 0; n < 200; n++ {
		inst := newInstance(StartRequest{SuiteID: "dashboard"}, "http://127.0.0.1:1", 20)
		inst.transition(StateReady)

		var wg sync.WaitGroup
		var stopped bool
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopped = inst.transition(StateStopping)
		}()
		_, to := inst.markExited(nil)
		wg.Wait()

		switch {
		case stopped && to != StateStopped:
			t.Fatalf("stop accepted before exit but exit ended in %s", to)
		case !stopped && to != StateCrashed:
			t.Fatalf("stop refused but exit ended in %s", to)
		}
		if inst.State() != to {
			t.Fatalf("state %s does not match exit result %s", inst.State(), to)
		}
	}
}
