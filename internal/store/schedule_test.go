package store

import (
	"testing"
	"time"
)

func scheduleItem(memoryID string, priority int, createdAt int64) *ScheduleItem {
	return &ScheduleItem{
		MemoryID:     memoryID,
		CurrentPhase: "episodic",
		TargetPhase:  "compressed1",
		Priority:     priority,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestScheduleLifecycle(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	item := scheduleItem("m1", 5, now)
	if err := db.InsertScheduleItem(item); err != nil {
		t.Fatalf("InsertScheduleItem: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected non-zero schedule id")
	}
	if item.Status != SchedulePending {
		t.Errorf("Status = %q, want pending", item.Status)
	}

	ok, err := db.ClaimScheduleItem(item.ID, now)
	if err != nil {
		t.Fatalf("ClaimScheduleItem: %v", err)
	}
	if !ok {
		t.Fatal("first claim should succeed")
	}

	// A second claim must lose the race.
	ok, err = db.ClaimScheduleItem(item.ID, now)
	if err != nil {
		t.Fatalf("ClaimScheduleItem again: %v", err)
	}
	if ok {
		t.Error("second claim should fail")
	}

	if err := db.CompleteScheduleItem(item.ID, 120, now); err != nil {
		t.Fatalf("CompleteScheduleItem: %v", err)
	}

	pending, completed, failed, err := db.CountSchedule()
	if err != nil {
		t.Fatalf("CountSchedule: %v", err)
	}
	if pending != 0 || completed != 1 || failed != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/1/0", pending, completed, failed)
	}
}

func TestHasPendingSchedule(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	has, err := db.HasPendingSchedule("m1")
	if err != nil {
		t.Fatalf("HasPendingSchedule: %v", err)
	}
	if has {
		t.Error("empty schedule should have no pending items")
	}

	item := scheduleItem("m1", 5, now)
	if err := db.InsertScheduleItem(item); err != nil {
		t.Fatalf("InsertScheduleItem: %v", err)
	}

	has, _ = db.HasPendingSchedule("m1")
	if !has {
		t.Error("expected pending item for m1")
	}

	// Processing still counts as in-flight.
	if _, err := db.ClaimScheduleItem(item.ID, now); err != nil {
		t.Fatalf("ClaimScheduleItem: %v", err)
	}
	has, _ = db.HasPendingSchedule("m1")
	if !has {
		t.Error("processing item should still count as pending")
	}

	if err := db.CompleteScheduleItem(item.ID, 0, now); err != nil {
		t.Fatalf("CompleteScheduleItem: %v", err)
	}
	has, _ = db.HasPendingSchedule("m1")
	if has {
		t.Error("completed item should not count as pending")
	}
}

func TestListPendingScheduleOrder(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	low := scheduleItem("low", 2, now)
	oldHigh := scheduleItem("old-high", 8, now-1000)
	newHigh := scheduleItem("new-high", 8, now)
	for _, it := range []*ScheduleItem{low, newHigh, oldHigh} {
		if err := db.InsertScheduleItem(it); err != nil {
			t.Fatalf("InsertScheduleItem: %v", err)
		}
	}

	items, err := db.ListPendingSchedule(10)
	if err != nil {
		t.Fatalf("ListPendingSchedule: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	want := []string{"old-high", "new-high", "low"}
	for i, w := range want {
		if items[i].MemoryID != w {
			t.Errorf("items[%d] = %s, want %s", i, items[i].MemoryID, w)
		}
	}
}

func TestFailScheduleItem(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	item := scheduleItem("m1", 5, now)
	if err := db.InsertScheduleItem(item); err != nil {
		t.Fatalf("InsertScheduleItem: %v", err)
	}
	if _, err := db.ClaimScheduleItem(item.ID, now); err != nil {
		t.Fatalf("ClaimScheduleItem: %v", err)
	}
	if err := db.FailScheduleItem(item.ID, "summarize: timeout", now); err != nil {
		t.Fatalf("FailScheduleItem: %v", err)
	}

	pending, _, failed, err := db.CountSchedule()
	if err != nil {
		t.Fatalf("CountSchedule: %v", err)
	}
	if pending != 0 || failed != 1 {
		t.Errorf("pending=%d failed=%d, want 0/1", pending, failed)
	}
}

func TestAgePendingSchedule(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()
	sixHoursAgo := now - 6*60*60*1000

	stale := scheduleItem("stale", 5, sixHoursAgo-1000)
	capped := scheduleItem("capped", 10, sixHoursAgo-1000)
	recent := scheduleItem("recent", 5, now)
	for _, it := range []*ScheduleItem{stale, capped, recent} {
		if err := db.InsertScheduleItem(it); err != nil {
			t.Fatalf("InsertScheduleItem: %v", err)
		}
	}

	n, err := db.AgePendingSchedule(sixHoursAgo)
	if err != nil {
		t.Fatalf("AgePendingSchedule: %v", err)
	}
	if n != 1 {
		t.Errorf("aged %d items, want 1", n)
	}

	items, _ := db.ListPendingSchedule(10)
	for _, it := range items {
		switch it.MemoryID {
		case "stale":
			if it.Priority != 6 {
				t.Errorf("stale priority = %d, want 6", it.Priority)
			}
		case "capped":
			if it.Priority != 10 {
				t.Errorf("capped priority = %d, want 10", it.Priority)
			}
		case "recent":
			if it.Priority != 5 {
				t.Errorf("recent priority = %d, want 5", it.Priority)
			}
		}
	}
}
