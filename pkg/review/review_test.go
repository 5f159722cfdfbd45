package review

import (
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func TestEnqueueAndApprove(t *testing.T) {
	q := New()
	id := nodeid.New()
	q.Enqueue(id, "flagged by recall quality check", 1)

	rating := 4
	if err := q.Approve(id, &rating); err != nil {
		t.Fatalf("approve: %v", err)
	}
	item, ok := q.Get(id)
	if !ok || item.Status != Approved || item.Rating == nil || *item.Rating != 4 {
		t.Fatalf("unexpected item: %+v, ok=%v", item, ok)
	}
}

func TestApproveUnknownNode(t *testing.T) {
	q := New()
	if err := q.Approve(nodeid.New(), nil); err == nil {
		t.Fatal("expected error approving unqueued node")
	}
}

func TestPendingOrdersByPriorityThenFIFO(t *testing.T) {
	q := New()
	low := nodeid.New()
	high := nodeid.New()
	early := nodeid.New()
	late := nodeid.New()

	q.Enqueue(low, "", 1)
	q.Enqueue(high, "", 5)
	q.Enqueue(early, "", 3)
	q.Enqueue(late, "", 3)

	pending := q.Pending()
	if pending[0].NodeID != high {
		t.Fatalf("expected highest priority first, got %+v", pending[0])
	}
	if pending[1].NodeID != early || pending[2].NodeID != late {
		t.Fatalf("expected FIFO among equal priority: %+v", pending[1:3])
	}
}

func TestRejectExcludesFromPending(t *testing.T) {
	q := New()
	id := nodeid.New()
	q.Enqueue(id, "", 0)
	if err := q.Reject(id); err != nil {
		t.Fatalf("reject: %v", err)
	}
	for _, p := range q.Pending() {
		if p.NodeID == id {
			t.Fatal("rejected item should not appear in pending")
		}
	}
}

func TestListAllReturnsEveryStatus(t *testing.T) {
	q := New()
	a, b := nodeid.New(), nodeid.New()
	q.Enqueue(a, "", 0)
	q.Enqueue(b, "", 0)
	q.Reject(b)

	all := q.List(Pending, true)
	if len(all) != 2 {
		t.Fatalf("expected 2 items regardless of status, got %d", len(all))
	}
}

func TestRemoveDropsItem(t *testing.T) {
	q := New()
	id := nodeid.New()
	q.Enqueue(id, "", 0)
	q.Remove(id)
	if _, ok := q.Get(id); ok {
		t.Fatal("expected item removed")
	}
}
