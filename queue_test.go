package ldap

import "testing"

func TestRequestQueueEnqueueRespectsCapacity(t *testing.T) {
	q := newRequestQueue(2)
	if !q.enqueue(queueEntry{req: &pendingRequest{}}) {
		t.Fatal("first enqueue should succeed")
	}
	if !q.enqueue(queueEntry{req: &pendingRequest{}}) {
		t.Fatal("second enqueue should succeed")
	}
	if q.enqueue(queueEntry{req: &pendingRequest{}}) {
		t.Fatal("third enqueue should fail once capacity is reached")
	}
	if q.len() != 2 {
		t.Fatalf("len() = %d, want 2", q.len())
	}
}

func TestRequestQueueUnboundedWhenMaxSizeZero(t *testing.T) {
	q := newRequestQueue(0)
	for i := 0; i < 100; i++ {
		if !q.enqueue(queueEntry{req: &pendingRequest{}}) {
			t.Fatalf("enqueue %d should succeed on an unbounded queue", i)
		}
	}
}

func TestRequestQueueFlushIsFIFO(t *testing.T) {
	q := newRequestQueue(0)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.enqueue(queueEntry{req: &pendingRequest{}, encode: func(int32) ([]byte, error) {
			order = append(order, i)
			return nil, nil
		}})
	}

	q.flush(func(e queueEntry) { _, _ = e.encode(1) })

	for i, v := range order {
		if v != i {
			t.Fatalf("flush order = %v, want 0..4 in order", order)
		}
	}
	if q.len() != 0 {
		t.Fatalf("len() after flush = %d, want 0", q.len())
	}
}

func TestRequestQueueFreezeRejectsEnqueue(t *testing.T) {
	q := newRequestQueue(0)
	q.freeze()
	if q.enqueue(queueEntry{req: &pendingRequest{}}) {
		t.Fatal("enqueue on a frozen queue should fail")
	}
	q.thaw()
	if !q.enqueue(queueEntry{req: &pendingRequest{}}) {
		t.Fatal("enqueue after thaw should succeed")
	}
}

func TestRequestQueuePurgeReportsAnErrorPerEntry(t *testing.T) {
	q := newRequestQueue(0)
	q.enqueue(queueEntry{req: &pendingRequest{}})
	q.enqueue(queueEntry{req: &pendingRequest{}})

	var errs int
	q.purge(func(e queueEntry, err error) {
		if err == nil {
			t.Error("purge should report a non-nil error for every entry")
		}
		errs++
	})
	if errs != 2 {
		t.Fatalf("purge visited %d entries, want 2", errs)
	}
	if q.len() != 0 {
		t.Fatalf("len() after purge = %d, want 0", q.len())
	}
}
