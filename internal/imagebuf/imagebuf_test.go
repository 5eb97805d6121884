package imagebuf

import (
	"sync"
	"testing"
)

func fill(p *Planes, v byte) {
	for i := range p.R {
		p.R[i] = v
		p.G[i] = v
		p.B[i] = v
	}
}

func TestTripleBufferReaderSeesCommittedLine(t *testing.T) {
	tb := NewTripleBuffer(16)

	slot := tb.WriteSlot()
	fill(slot, 7)
	tb.Commit()

	got := tb.Acquire()
	for i, v := range got.R {
		if v != 7 {
			t.Fatalf("R[%d] = %d, want 7", i, v)
		}
	}
}

func TestTripleBufferWriterAvoidsReadSlot(t *testing.T) {
	tb := NewTripleBuffer(4)
	for i := 0; i < 10; i++ {
		read := tb.Acquire()
		slot := tb.WriteSlot()
		if slot == read {
			t.Fatal("writer selected the published read slot")
		}
		fill(slot, byte(i))
		tb.Commit()
		if got := tb.Acquire().R[0]; got != byte(i) {
			t.Fatalf("after commit %d read %d", i, got)
		}
	}
}

func TestTripleBufferConcurrentReaders(t *testing.T) {
	tb := NewTripleBuffer(64)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			slot := tb.WriteSlot()
			fill(slot, byte(i%250))
			tb.Commit()
		}
		close(done)
	}()
	// Readers must never block and must always see a full-size line.
	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		p := tb.Acquire()
		if len(p.R) != 64 || len(p.G) != 64 || len(p.B) != 64 {
			t.Fatalf("short planes: %d %d %d", len(p.R), len(p.G), len(p.B))
		}
	}
}

func TestDoubleBufferLastValidSurvivesPublish(t *testing.T) {
	db := NewDoubleBuffer(8)
	fill(db.Active(), 42)
	db.Publish(nil)

	snap := newPlanes(8)
	_, seq := db.Snapshot(&snap)
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	for i, v := range snap.R {
		if v != 42 {
			t.Fatalf("snapshot R[%d] = %d, want 42", i, v)
		}
	}

	// A second publication replaces the last valid image.
	fill(db.Active(), 9)
	db.Publish(nil)
	_, seq = db.Snapshot(&snap)
	if seq != 2 {
		t.Errorf("seq = %d, want 2", seq)
	}
	if snap.R[0] != 9 {
		t.Errorf("snapshot R[0] = %d, want 9", snap.R[0])
	}
}

func TestDoubleBufferWaitData(t *testing.T) {
	db := NewDoubleBuffer(4)
	doneWait := make(chan uint64, 1)
	go func() {
		doneWait <- db.WaitData(0)
	}()
	fill(db.Active(), 1)
	db.Publish(nil)
	if got := <-doneWait; got != 1 {
		t.Errorf("WaitData = %d, want 1", got)
	}
}

func TestPanGainPublishRead(t *testing.T) {
	b := NewPanGainBuffer(4)

	l, r, p := b.Read()
	if len(l) != 4 || len(r) != 4 || len(p) != 4 {
		t.Fatalf("unexpected lengths %d %d %d", len(l), len(r), len(p))
	}
	// Initial gains are center pan.
	if l[0] < 0.7 || l[0] > 0.71 {
		t.Errorf("initial left = %g, want ~0.707", l[0])
	}

	left := []float32{1, 0, 0.5, 0.2}
	right := []float32{0, 1, 0.5, 0.8}
	pan := []float32{-1, 1, 0, 0.5}
	b.Publish(left, right, pan)

	l, r, p = b.Read()
	for i := range left {
		if l[i] != left[i] || r[i] != right[i] || p[i] != pan[i] {
			t.Fatalf("index %d: got (%g,%g,%g)", i, l[i], r[i], p[i])
		}
	}

	// Two publications alternate sides without disturbing readers.
	b.Publish(right, left, pan)
	l, r, _ = b.Read()
	if l[0] != right[0] || r[0] != left[0] {
		t.Errorf("second publish not visible")
	}
}

func TestOutputBufferHandshake(t *testing.T) {
	ob := NewOutputBuffer(8)

	slot, ok := ob.WaitWritable(10)
	if !ok {
		t.Fatal("fresh buffer not writable")
	}
	for i := range slot.L {
		slot.L[i] = 0.5
		slot.R[i] = -0.5
	}
	ob.Publish()

	if !ob.Slot(0).Ready() {
		t.Fatal("slot 0 not ready after publish")
	}
	if got := ob.Slot(0).L[3]; got != 0.5 {
		t.Errorf("L[3] = %g, want 0.5", got)
	}
	ob.Release(0)
	if ob.Slot(0).Ready() {
		t.Error("slot 0 still ready after release")
	}

	// Producer can publish into both slots, then stalls until a release.
	if _, ok := ob.WaitWritable(10); !ok {
		t.Fatal("slot 1 should be writable")
	}
	ob.Publish()
	if _, ok := ob.WaitWritable(10); !ok {
		t.Fatal("slot 0 was released, should be writable")
	}
	ob.Publish()
	if _, ok := ob.WaitWritable(3); ok {
		t.Error("both slots ready, producer should time out")
	}
}
