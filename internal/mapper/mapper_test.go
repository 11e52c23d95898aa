package mapper

import (
	"testing"

	"github.com/breeze-rmm/rfbkit/internal/actions"
)

func relative(deltaNs int64) string {
	return actions.FormatRelativeTimestamp(deltaNs)
}

func TestMapOrdinaryActionUsesNextSynthesizedTimestamp(t *testing.T) {
	execActions := []ExecutionAction{
		{Action: "click", Params: map[string]any{}},
		{Action: "type", Params: map[string]any{}},
	}
	synthesized := []int64{0, 2_000_000_000}
	frames := []int64{0, 500_000_000, 1_000_000_000, 2_500_000_000, 3_500_000_000}

	recs, err := Map(DefaultConfig(), execActions[:1], synthesized, frames, 0, relative)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.TimestampNs != 2_000_000_000 {
		t.Fatalf("TimestampNs = %d, want 2s", rec.TimestampNs)
	}
	if rec.Before.Index != 2 {
		t.Fatalf("Before.Index = %d, want 2 (frame at 1s, latest <= 2s)", rec.Before.Index)
	}
	if rec.After == nil {
		t.Fatalf("After is nil")
	}
	// threshold = start(2s) + MinAfterDelay(1s) = 3s; first frame strictly after 3s is at 3.5s, index 4.
	if rec.After.Index != 4 {
		t.Fatalf("After.Index = %d, want 4", rec.After.Index)
	}
}

func TestMapWaitActionUsesDurationAndBothBuffers(t *testing.T) {
	execActions := []ExecutionAction{
		{Action: "click", Params: map[string]any{}},
		{Action: "wait", Params: map[string]any{"duration": 1.0}},
	}
	synthesized := []int64{0, 10_000_000_000}
	// First action (click) anchors on synthesized[1] = 10s; its after-frame becomes
	// the wait's start.
	frames := []int64{0, 5_000_000_000, 11_500_000_000, 20_000_000_000, 30_000_000_000}

	recs, err := Map(DefaultConfig(), execActions, synthesized, frames, 0, relative)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}

	click := recs[0]
	if click.TimestampNs != 10_000_000_000 {
		t.Fatalf("click TimestampNs = %d, want 10s", click.TimestampNs)
	}
	// click's after threshold = 10s + 1s = 11s; first frame after 11s is 11.5s (index 2).
	if click.After.Index != 2 {
		t.Fatalf("click After.Index = %d, want 2", click.After.Index)
	}

	wait := recs[1]
	// wait start = click's after-frame timestamp (11.5s); end = start + 1s = 12.5s;
	// threshold = end + MinAfterDelay(1s) + WaitAfterBuffer(1s) = 14.5s; first frame
	// after 14.5s is 20s (index 3).
	if wait.TimestampNs != 11_500_000_000 {
		t.Fatalf("wait TimestampNs = %d, want 11.5s", wait.TimestampNs)
	}
	if wait.After.Index != 3 {
		t.Fatalf("wait After.Index = %d, want 3", wait.After.Index)
	}
}

func TestMapFinishActionHasOnlyBeforeFrame(t *testing.T) {
	execActions := []ExecutionAction{
		{Action: "click", Params: map[string]any{}},
		{Action: "finish", Params: map[string]any{}, TaskMarkedComplete: true},
	}
	synthesized := []int64{0, 5_000_000_000}
	frames := []int64{0, 4_000_000_000, 6_000_000_000, 8_000_000_000}

	recs, err := Map(DefaultConfig(), execActions, synthesized, frames, 0, relative)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	finish := recs[1]
	if finish.After != nil {
		t.Fatalf("finish action should have no after-frame, got %+v", finish.After)
	}
	if !finish.TaskMarkedComplete {
		t.Fatalf("TaskMarkedComplete = false, want true")
	}
}

func TestMapWaitActionMissingDurationErrors(t *testing.T) {
	execActions := []ExecutionAction{
		{Action: "wait", Params: map[string]any{}},
	}
	// Seed the "last after" state by running a preceding ordinary action.
	full := []ExecutionAction{{Action: "click"}, execActions[0]}
	synthesized := []int64{0, 1_000_000_000}
	frames := []int64{0, 2_000_000_000, 3_000_000_000}

	_, err := Map(DefaultConfig(), full, synthesized, frames, 0, relative)
	if err == nil {
		t.Fatalf("want error for missing duration param")
	}
}

func TestBeforeAndAfterFrameIndexBinarySearch(t *testing.T) {
	frames := []int64{0, 10, 20, 30, 40}

	if idx, err := beforeFrameIndex(frames, 25); err != nil || idx != 2 {
		t.Fatalf("beforeFrameIndex(25) = (%d, %v), want (2, nil)", idx, err)
	}
	if idx, err := beforeFrameIndex(frames, 0); err != nil || idx != 0 {
		t.Fatalf("beforeFrameIndex(0) = (%d, %v), want (0, nil)", idx, err)
	}
	if _, err := beforeFrameIndex(frames, -1); err == nil {
		t.Fatalf("want error for timestamp before all frames")
	}

	if idx, err := afterFrameIndex(frames, 25); err != nil || idx != 3 {
		t.Fatalf("afterFrameIndex(25) = (%d, %v), want (3, nil)", idx, err)
	}
	if _, err := afterFrameIndex(frames, 40); err == nil {
		t.Fatalf("want error for threshold past all frames")
	}
}
