package tester

import (
	"context"
	"testing"
)

func TestFactoryValidatesErrorPercentage(t *testing.T) {
	if _, err := Factory(map[string]any{"error_percentage": 150}, nil); err == nil {
		t.Fatal("expected error for out-of-range error_percentage")
	}
	if _, err := Factory(map[string]any{"error_percentage": "oops"}, nil); err == nil {
		t.Fatal("expected error for non-numeric error_percentage")
	}
}

func TestTasksYieldsAllThousandItems(t *testing.T) {
	mod, err := Factory(map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	stream, err := mod.Tasks("")
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	ctx := context.Background()
	count := 0
	for {
		_, ok, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != itemCount {
		t.Fatalf("expected %d items, got %d", itemCount, count)
	}
}

func TestTasksResumeFromLastSent(t *testing.T) {
	mod, err := Factory(map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	stream, err := mod.Tasks("myitem-4")
	if err != nil {
		t.Fatalf("Tasks(resume): %v", err)
	}
	td, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if td.Item != "myitem-5" {
		t.Fatalf("expected resume to yield myitem-5, got %q", td.Item)
	}
}

func TestTaskProcessAlwaysFailsAtFullErrorRate(t *testing.T) {
	task := Task{}
	for i := 0; i < 20; i++ {
		_, err := task.Process(context.Background(), "myitem-0", map[string]any{"error_percentage": 100}, "req")
		if err == nil {
			t.Fatal("expected an error at error_percentage=100")
		}
	}
}

func TestTaskProcessNeverFailsAtZeroErrorRate(t *testing.T) {
	task := Task{}
	for i := 0; i < 20; i++ {
		if _, err := task.Process(context.Background(), "myitem-0", map[string]any{"error_percentage": 0}, "req"); err != nil {
			t.Fatalf("unexpected error at error_percentage=0: %v", err)
		}
	}
}
