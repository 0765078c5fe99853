package engine

import (
	"context"
	"testing"
)

func TestParseSignals(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantSignal Signal
		wantReason string
	}{
		{"empty output", "", SignalNone, ""},
		{"plain prose", "Tests pass, I promise to COMPLETE this later.", SignalNone, ""},
		{"complete", "Done.\n<promise>COMPLETE</promise>\n", SignalComplete, ""},
		{"complete drops reason", "<promise>COMPLETE: all green</promise>", SignalComplete, ""},
		{"eject with reason", "<promise>EJECT: install CUDA toolkit</promise>", SignalEject, "install CUDA toolkit"},
		{"eject without reason", "<promise>EJECT</promise>", SignalEject, ""},
		{"blocked keeps colons", "<promise>BLOCKED: need https://api.example.com token</promise>", SignalBlocked, "need https://api.example.com token"},
		{"reason spanning lines", "<promise>BLOCKED: schema unclear,\n   ask the owner</promise>", SignalBlocked, "schema unclear, ask the owner"},
		{"unterminated tag", "<promise>COMPLETE", SignalNone, ""},
		{"lower case", "<promise>complete</promise>", SignalNone, ""},
		{"unknown word", "<promise>DONE</promise>", SignalNone, ""},
		{"complete outranks stop", "<promise>BLOCKED: flaky CI</promise>\n<promise>COMPLETE</promise>", SignalComplete, ""},
		{"eject outranks blocked", "<promise>BLOCKED: a</promise> <promise>EJECT: b</promise>", SignalEject, "b"},
		{"first reason of a kind", "<promise>EJECT: first</promise><promise>EJECT: second</promise>", SignalEject, "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, reason := ParseSignals(tt.output)
			if sig != tt.wantSignal {
				t.Errorf("signal = %v, want %v", sig, tt.wantSignal)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestSignal_Semantics(t *testing.T) {
	tests := []struct {
		signal     Signal
		name       string
		closesTask bool
		stop       StopReason
	}{
		{SignalNone, "NONE", false, ""},
		{SignalComplete, "COMPLETE", true, ""},
		{SignalEject, "EJECT", false, StopEjected},
		{SignalBlocked, "BLOCKED", false, StopBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.signal.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := tt.signal.ClosesTask(); got != tt.closesTask {
				t.Errorf("ClosesTask() = %v, want %v", got, tt.closesTask)
			}
			if got := tt.signal.StopReason(); got != tt.stop {
				t.Errorf("StopReason() = %q, want %q", got, tt.stop)
			}
		})
	}
}

func TestSignal_StopDetail(t *testing.T) {
	if got := SignalEject.stopDetail("needs docker"); got != "agent ejected: needs docker" {
		t.Errorf("stopDetail = %q", got)
	}
	if got := SignalBlocked.stopDetail(""); got != "agent blocked" {
		t.Errorf("stopDetail = %q", got)
	}
}

// TestEngine_TaskCompletion checks how an iteration's result records task
// completion: COMPLETE closes the task itself, a task closed in the source
// by the agent counts without the marker, and neither leaves it open.
func TestEngine_TaskCompletion(t *testing.T) {
	tests := []struct {
		name          string
		output        string
		agentCloses   bool
		wantPromise   bool
		wantCompleted bool
	}{
		{"complete marker", "<promise>COMPLETE</promise>", false, true, true},
		{"closed in tracker", "closed it with tk", true, false, true},
		{"marker and tracker", "<promise>COMPLETE</promise>", true, true, true},
		{"still working", "half way there", false, false, false},
		{"blocked", "<promise>BLOCKED: no access</promise>", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newMockSource(Task{ID: "T-1", Title: "Add login"})
			resp := mockResponse{output: tt.output}
			if tt.agentCloses {
				resp.during = func() { _ = src.SetStatus("T-1", "closed") }
			}
			e := NewEngine(&mockAgent{responses: []mockResponse{resp}}, src)
			rec := &recorder{}
			e.Subscribe(rec.listen)

			if _, err := e.Run(context.Background(), RunConfig{MaxIterations: 1}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			var result *IterationResult
			for _, ev := range rec.events {
				if ic, ok := ev.(IterationCompleted); ok {
					result = &ic.Result
					break
				}
			}
			if result == nil {
				t.Fatal("no iteration:completed event")
			}
			if result.Status != IterationStatusCompleted {
				t.Errorf("Status = %q, want completed", result.Status)
			}
			if result.PromiseComplete != tt.wantPromise {
				t.Errorf("PromiseComplete = %v, want %v", result.PromiseComplete, tt.wantPromise)
			}
			if result.TaskCompleted != tt.wantCompleted {
				t.Errorf("TaskCompleted = %v, want %v", result.TaskCompleted, tt.wantCompleted)
			}
			closed, _ := src.IsClosed("T-1")
			if closed != tt.wantCompleted {
				t.Errorf("task closed in source = %v, want %v", closed, tt.wantCompleted)
			}
		})
	}
}
