package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestPluginType_Order(t *testing.T) {
	types := AllPluginTypes()
	if len(types) != 10 {
		t.Fatalf("expected 10 plugin types, got %d", len(types))
	}
	for i, typ := range types {
		if typ.Order() != i {
			t.Errorf("%s: expected order %d, got %d", typ, i, typ.Order())
		}
	}
	if PluginType("UNKNOWN").Order() != -1 {
		t.Error("unknown type should have order -1")
	}
}

func TestPluginType_Predecessors(t *testing.T) {
	tests := []struct {
		typ  PluginType
		want []PluginType
	}{
		{PluginTypeHarvest, nil},
		{PluginTypeHTTPHarvest, nil},
		{PluginTypeValidateExternal, []PluginType{PluginTypeHarvest, PluginTypeHTTPHarvest}},
		{PluginTypeTransform, []PluginType{PluginTypeValidateExternal}},
		{PluginTypeValidateInternal, []PluginType{PluginTypeTransform}},
		{PluginTypeNormalize, []PluginType{PluginTypeValidateInternal}},
		{PluginTypeEnrich, []PluginType{PluginTypeNormalize}},
		{PluginTypeMediaProcess, []PluginType{PluginTypeEnrich}},
		{PluginTypeIndexPreview, []PluginType{PluginTypeMediaProcess}},
		{PluginTypeIndexPublish, []PluginType{PluginTypeIndexPreview}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got := tt.typ.Predecessors()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestPluginType_CanFollow(t *testing.T) {
	if !PluginTypeValidateExternal.CanFollow(PluginTypeHTTPHarvest) {
		t.Error("VALIDATE_EXTERNAL should follow HTTP_HARVEST")
	}
	if PluginTypeTransform.CanFollow(PluginTypeHarvest) {
		t.Error("TRANSFORM should not follow HARVEST")
	}
	if PluginTypeHarvest.CanFollow(PluginTypeIndexPublish) {
		t.Error("HARVEST has no predecessors")
	}
}

func TestParsePluginType(t *testing.T) {
	if _, err := ParsePluginType("ENRICH"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParsePluginType("DEREFERENCE"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestOverviewBucket(t *testing.T) {
	if WorkflowStatusInQueue.OverviewBucket() >= WorkflowStatusRunning.OverviewBucket() {
		t.Error("INQUEUE must sort before RUNNING")
	}
	for _, s := range []WorkflowStatus{WorkflowStatusFinished, WorkflowStatusFailed, WorkflowStatusCancelled} {
		if s.OverviewBucket() != 3 {
			t.Errorf("%s: expected bucket 3, got %d", s, s.OverviewBucket())
		}
	}
}

func TestNewWorkflowExecution_UsesEnabledStepsInChainOrder(t *testing.T) {
	steps := []PluginConfig{
		{Type: PluginTypeTransform, Enabled: true},
		{Type: PluginTypeHarvest, Enabled: true, URL: "http://example.com/oai"},
		{Type: PluginTypeNormalize, Enabled: false},
		{Type: PluginTypeValidateExternal, Enabled: true},
	}

	exec := NewWorkflowExecution("ds-1", uuid.New(), steps, 3, "")

	if exec.Status != WorkflowStatusInQueue {
		t.Errorf("expected INQUEUE, got %s", exec.Status)
	}
	want := []PluginType{PluginTypeHarvest, PluginTypeValidateExternal, PluginTypeTransform}
	if len(exec.Plugins) != len(want) {
		t.Fatalf("expected %d plugins, got %d", len(want), len(exec.Plugins))
	}
	for i, p := range exec.Plugins {
		if p.Type != want[i] {
			t.Errorf("plugin %d: expected %s, got %s", i, want[i], p.Type)
		}
		if p.Status != PluginStatusInQueue {
			t.Errorf("plugin %d: expected INQUEUE, got %s", i, p.Status)
		}
	}
}

func TestWorkflowExecution_MarkCancelled(t *testing.T) {
	exec := NewWorkflowExecution("ds-1", uuid.New(), []PluginConfig{
		{Type: PluginTypeHarvest, Enabled: true},
		{Type: PluginTypeValidateExternal, Enabled: true},
		{Type: PluginTypeTransform, Enabled: true},
	}, 0, "")
	exec.MarkRunning()
	exec.Plugins[0].MarkSubmitted("task-1")
	exec.Plugins[0].MarkFinished()
	exec.Plugins[1].MarkSubmitted("task-2")
	exec.RequestCancel("user-1")

	exec.MarkCancelled()

	if exec.Status != WorkflowStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", exec.Status)
	}
	if exec.Cancelling {
		t.Error("cancelling flag should be cleared")
	}
	if exec.CancelledBy != "user-1" {
		t.Errorf("expected cancelled_by user-1, got %q", exec.CancelledBy)
	}
	if exec.Plugins[0].Status != PluginStatusFinished {
		t.Errorf("finished step must stay FINISHED, got %s", exec.Plugins[0].Status)
	}
	for _, p := range exec.Plugins[1:] {
		if p.Status != PluginStatusCancelled {
			t.Errorf("%s: expected CANCELLED, got %s", p.Type, p.Status)
		}
	}
}

func TestWorkflowExecution_RequestCancel_System(t *testing.T) {
	exec := &WorkflowExecution{Status: WorkflowStatusRunning}
	exec.RequestCancel("")

	if !exec.Cancelling {
		t.Error("cancelling should be set")
	}
	if exec.CancelledBy != SystemCancelActor {
		t.Errorf("expected %s, got %q", SystemCancelActor, exec.CancelledBy)
	}
}

func TestPluginExecution_DataStatus(t *testing.T) {
	tests := []struct {
		name     string
		progress Progress
		want     DataStatus
	}{
		{"all processed", Progress{ProcessedRecords: 10}, DataStatusValid},
		{"some errors", Progress{ProcessedRecords: 10, ErrorRecords: 3}, DataStatusValid},
		{"all errored", Progress{ProcessedRecords: 10, ErrorRecords: 10}, DataStatusInvalid},
		{"empty", Progress{}, DataStatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PluginExecution{Status: PluginStatusFinished, Progress: tt.progress}
			if got := p.DataStatus(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if p.HasValidData() != (tt.want == DataStatusValid) {
				t.Error("HasValidData mismatch")
			}
		})
	}
}

func TestLinkageFrom(t *testing.T) {
	p := &PluginExecution{ID: uuid.New(), Type: PluginTypeValidateExternal}
	p.MarkSubmitted("task-1")
	p.MarkFinished()

	l := LinkageFrom(p)
	if l.RevisionName != "VALIDATE_EXTERNAL" {
		t.Errorf("expected revision name VALIDATE_EXTERNAL, got %s", l.RevisionName)
	}
	if !l.RevisionTimestamp.Equal(*p.StartedAt) {
		t.Error("revision timestamp should be the predecessor start time")
	}
	if l.PluginID != p.ID {
		t.Error("plugin id should be set")
	}
}
