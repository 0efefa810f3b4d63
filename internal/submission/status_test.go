package submission

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusQueued, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusQueued},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s should be allowed", edge[0], edge[1])
		}
	}
	denied := [][2]Status{
		{StatusQueued, StatusCompleted},
		{StatusQueued, StatusFailed},
		{StatusCompleted, StatusQueued},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusProcessing},
		{StatusProcessing, StatusQueued},
	}
	for _, edge := range denied {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s should be denied", edge[0], edge[1])
		}
	}
}

func TestTransitionSetsProcessedOnce(t *testing.T) {
	rec := &Record{ID: "s1", Status: StatusQueued}
	if err := rec.Transition(StatusProcessing, 1000); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if rec.ProcessedMs != 0 {
		t.Fatalf("processed stamped too early")
	}
	if err := rec.Fail("boom", 2000); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if rec.ProcessedMs != 2000 || rec.ErrorMessage != "boom" {
		t.Fatalf("fail state: %+v", rec)
	}

	// Requeue clears failure fields but keeps the original stamp.
	rec.DuplicateOf = "other"
	if err := rec.Transition(StatusQueued, 3000); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if rec.ErrorMessage != "" || rec.DuplicateOf != "" {
		t.Fatalf("requeue kept failure fields: %+v", rec)
	}
	if err := rec.Transition(StatusProcessing, 4000); err != nil {
		t.Fatalf("re-processing: %v", err)
	}
	if err := rec.Transition(StatusCompleted, 5000); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.ProcessedMs != 2000 {
		t.Fatalf("processed stamp moved on retry: %d", rec.ProcessedMs)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	rec := &Record{ID: "s1", Status: StatusCompleted}
	if err := rec.Transition(StatusQueued, 1000); err == nil {
		t.Fatalf("completed record left terminal state")
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status changed on rejected edge: %s", rec.Status)
	}
}

func TestParseConstructorsRejectUnknown(t *testing.T) {
	if _, err := ParseOperation("upsert"); err == nil {
		t.Fatalf("unknown operation accepted")
	}
	if _, err := ParseSource("webhook"); err == nil {
		t.Fatalf("unknown source accepted")
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Fatalf("unknown status accepted")
	}
	if op, err := ParseOperation("create"); err != nil || op != OpCreate {
		t.Fatalf("create rejected: %v", err)
	}
}
