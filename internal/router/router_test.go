package router

import (
	"fmt"
	"testing"
	"time"
)

func TestSubscribeFanOutOrder(t *testing.T) {
	r := New(1<<20, 16)

	sub1 := r.Subscribe("s1")
	sub2 := r.Subscribe("s1")

	r.Publish("s1", []byte("pong\n"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case c := <-sub.Chunks:
			if string(c.Data) != "pong\n" {
				t.Fatalf("subscriber %d got %q", i, c.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out waiting for chunk", i)
		}
	}
}

func TestLateSubscriberGetsRingSnapshot(t *testing.T) {
	r := New(1<<20, 16)
	r.Publish("s1", []byte("hello "))
	r.Publish("s1", []byte("world"))

	sub := r.Subscribe("s1")
	if string(sub.Snapshot) != "hello world" {
		t.Fatalf("snapshot = %q, want %q", sub.Snapshot, "hello world")
	}
}

func TestRingEvictsOldestBytes(t *testing.T) {
	r := New(8, 16)
	r.Publish("s1", []byte("0123456789")) // 10 bytes > 8 byte ring

	sub := r.Subscribe("s1")
	if len(sub.Snapshot) != 8 {
		t.Fatalf("snapshot length = %d, want 8", len(sub.Snapshot))
	}
	if string(sub.Snapshot) != "23456789" {
		t.Fatalf("snapshot = %q, want suffix of input", sub.Snapshot)
	}
}

func TestSlowSubscriberIsDroppedWithOverrun(t *testing.T) {
	r := New(1<<20, 4) // small capacity so one subscriber lagging behind overruns quickly

	slow := r.Subscribe("s1")
	fast := r.Subscribe("s1")

	const n = 1000

	// The fast subscriber must drain concurrently with publishing or it
	// would itself overrun.
	fastDone := make(chan [][]byte, 1)
	go func() {
		var chunks [][]byte
		for c := range fast.Chunks {
			if c.Overrun {
				continue
			}
			chunks = append(chunks, c.Data)
			if len(chunks) == n {
				break
			}
		}
		fastDone <- chunks
	}()

	for i := 0; i < n; i++ {
		r.Publish("s1", []byte(fmt.Sprintf("chunk-%d", i)))
	}

	var fastChunks [][]byte
	select {
	case fastChunks = <-fastDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fast subscriber to drain")
	}
	for i, c := range fastChunks {
		want := fmt.Sprintf("chunk-%d", i)
		if string(c) != want {
			t.Fatalf("fast chunk %d = %q, want %q", i, c, want)
		}
	}

	// The slow subscriber's channel should have been overrun and closed.
	sawOverrun := false
	for c := range slow.Chunks {
		if c.Overrun {
			sawOverrun = true
		}
	}
	if !sawOverrun {
		t.Fatal("expected slow subscriber to receive an Overrun marker")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New(1<<20, 16)
	sub := r.Subscribe("s1")
	sub.Close()

	r.Publish("s1", []byte("after close"))

	if _, ok := <-sub.Chunks; ok {
		t.Fatal("expected channel to be closed after Close()")
	}
}

func TestDropPublishesEOSThenClosesAllSubscribers(t *testing.T) {
	r := New(1<<20, 16)
	sub := r.Subscribe("s1")
	r.Drop("s1")

	select {
	case c, ok := <-sub.Chunks:
		if !ok {
			t.Fatal("expected an EOS marker before the channel closes")
		}
		if !c.EOS {
			t.Fatalf("chunk = %+v, want EOS marker", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOS marker")
	}

	if _, ok := <-sub.Chunks; ok {
		t.Fatal("expected channel closed after Drop's EOS marker")
	}
}
