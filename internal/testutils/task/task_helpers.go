// Package task holds shared helpers for task-level tests.
package task

import (
	"context"
	"testing"

	"github.com/vsagcr/scopeprep/internal/server"
	"github.com/vsagcr/scopeprep/internal/task"
)

func PlanTasks(t *testing.T, overrides map[string]any, spec task.Spec) []task.Task {
	t.Helper()

	tasks, unknown, err := task.PlanTasks(overrides, []task.Spec{spec})
	if err != nil {
		t.Fatalf("PlanTasks failed: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unexpected unknown keys: %v", unknown)
	}
	if len(tasks) == 0 {
		t.Fatalf("expected at least one task, got %d", len(tasks))
	}
	return tasks
}

func RunCommand(t *testing.T, ctx context.Context, srv server.Server, command string) string {
	t.Helper()

	output, err := srv.Execute(ctx, command)
	if err != nil {
		t.Fatalf("command %q failed: %v\nOutput: %s", command, err, output)
	}
	return output
}

func AssertTasksSatisfied(t *testing.T, ctx context.Context, srv server.Server, tasks []task.Task) {
	t.Helper()

	for _, currentTask := range tasks {
		needs, err := currentTask.NeedsExecution(ctx, srv)
		if err != nil {
			t.Fatalf("NeedsExecution failed for %q: %v", currentTask.Name(), err)
		}
		if needs {
			t.Fatalf("expected task %q to be satisfied", currentTask.Name())
		}
	}
}

func AssertTasksNeedExecution(t *testing.T, ctx context.Context, srv server.Server, tasks []task.Task) {
	t.Helper()

	for _, currentTask := range tasks {
		needs, err := currentTask.NeedsExecution(ctx, srv)
		if err != nil {
			t.Fatalf("NeedsExecution failed for %q: %v", currentTask.Name(), err)
		}
		if needs {
			return
		}
	}
	t.Fatal("expected at least one task to need execution")
}
