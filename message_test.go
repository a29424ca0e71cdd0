package ipc

import "testing"

func TestMessageFlagsHas(t *testing.T) {
	f := FlagSynchronous | FlagWaitResponse
	if !f.Has(FlagSynchronous) {
		t.Fatalf("expected Has(FlagSynchronous) true")
	}
	if f.Has(FlagCanceled) {
		t.Fatalf("expected Has(FlagCanceled) false")
	}
	if !f.Has(FlagSynchronous | FlagWaitResponse) {
		t.Fatalf("expected Has of combined mask true")
	}
}

func TestMessageUidIsZero(t *testing.T) {
	var z MessageUid
	if !z.IsZero() {
		t.Fatalf("zero-value MessageUid must report IsZero")
	}
	nz := MessageUid{Idx: 1}
	if nz.IsZero() {
		t.Fatalf("non-zero MessageUid must not report IsZero")
	}
}

func TestUint32StackPushPop(t *testing.T) {
	var s uint32Stack
	if !s.empty() {
		t.Fatalf("fresh stack must be empty")
	}
	s.push(1)
	s.push(2)
	s.push(3)
	if s.len() != 3 {
		t.Fatalf("expected len 3, got %d", s.len())
	}
	v, ok := s.pop()
	if !ok || v != 3 {
		t.Fatalf("expected LIFO pop of 3, got %d, %v", v, ok)
	}
	if s.len() != 2 {
		t.Fatalf("expected len 2 after pop, got %d", s.len())
	}
}

func TestUint32StackPopEmpty(t *testing.T) {
	var s uint32Stack
	if _, ok := s.pop(); ok {
		t.Fatalf("expected pop on empty stack to fail")
	}
}

func TestUint32QueueFIFO(t *testing.T) {
	var q uint32Queue
	q.push(1)
	q.push(2)
	q.push(3)
	v, ok := q.front()
	if !ok || v != 1 {
		t.Fatalf("expected front 1, got %d, %v", v, ok)
	}
	v, ok = q.pop()
	if !ok || v != 1 {
		t.Fatalf("expected pop 1, got %d, %v", v, ok)
	}
	if q.len() != 2 {
		t.Fatalf("expected len 2, got %d", q.len())
	}
}

func TestUint32QueueRotate(t *testing.T) {
	var q uint32Queue
	q.push(1)
	q.push(2)
	q.push(3)
	q.rotate()
	v, _ := q.front()
	if v != 2 {
		t.Fatalf("expected front 2 after rotate, got %d", v)
	}
}

func TestUint32QueueRemoveValue(t *testing.T) {
	var q uint32Queue
	q.push(1)
	q.push(2)
	q.push(3)
	q.removeValue(2)
	if q.len() != 2 {
		t.Fatalf("expected len 2 after removeValue, got %d", q.len())
	}
	for _, v := range q.data {
		if v == 2 {
			t.Fatalf("value 2 should have been removed")
		}
	}
}

func TestSendMessageStubActiveAndReset(t *testing.T) {
	var s sendMessageStub
	if s.active() {
		t.Fatalf("zero-value stub must not be active")
	}
	s.msg = []byte("hi")
	s.typeID = 7
	s.flags = FlagSynchronous
	if !s.active() {
		t.Fatalf("stub with msg set must be active")
	}
	s.reset()
	if s.active() {
		t.Fatalf("reset stub must not be active")
	}
	if s.typeID != InvalidTypeID {
		t.Fatalf("reset stub must clear typeID")
	}
}
