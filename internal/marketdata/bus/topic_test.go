package bus

import (
	"testing"
	"time"

	"market-workbench/internal/model"
)

func TestTopic_BroadcastsToAll(t *testing.T) {
	topic := NewTopic[model.Candle]("candles", nil)
	out1, cancel1 := topic.Subscribe(10)
	out2, cancel2 := topic.Subscribe(10)
	defer cancel1()
	defer cancel2()

	if n := topic.Publish(model.Candle{T: 1, C: 105}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}

	for i, out := range []<-chan model.Candle{out1, out2} {
		select {
		case c := <-out:
			if c.C != 105 {
				t.Errorf("out%d: expected close 105, got %v", i+1, c.C)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for candle", i+1)
		}
	}
}

func TestTopic_DropsForFullSubscriber(t *testing.T) {
	topic := NewTopic[int]("ints", nil)
	drops := 0
	topic.OnDrop = func(name string) {
		if name != "ints" {
			t.Errorf("unexpected topic name %q", name)
		}
		drops++
	}

	slow, cancelSlow := topic.Subscribe(1)
	fast, cancelFast := topic.Subscribe(10)
	defer cancelSlow()
	defer cancelFast()

	for i := 0; i < 3; i++ {
		topic.Publish(i)
	}
	if drops != 2 {
		t.Errorf("expected 2 drops, got %d", drops)
	}
	if len(slow) != 1 || len(fast) != 3 {
		t.Errorf("unexpected fill: slow=%d fast=%d", len(slow), len(fast))
	}
}

func TestTopic_CancelClosesChannel(t *testing.T) {
	topic := NewTopic[string]("s", nil)
	ch, cancel := topic.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
	if n := topic.Publish("x"); n != 0 {
		t.Errorf("expected no deliveries after cancel, got %d", n)
	}
}

func TestTopic_Close(t *testing.T) {
	topic := NewTopic[int]("close", nil)
	out, _ := topic.Subscribe(4)

	topic.Publish(7)
	select {
	case v := <-out:
		if v != 7 {
			t.Errorf("expected 7, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	topic.Close()
	if _, ok := <-out; ok {
		t.Error("expected subscriber channel closed by Close")
	}

	late, _ := topic.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("expected closed channel for subscriber after Close")
	}
	if stats := topic.ChannelStats(); len(stats) != 0 {
		t.Errorf("expected no stats after Close, got %v", stats)
	}
}
