package node

import (
	"testing"
	"time"
)

func TestEventBusDelivery(t *testing.T) {
	stamp := time.Unix(1_700_000_000, 0)
	eb := NewEventBus(4, func() time.Time { return stamp })
	blocks := eb.Subscribe(EventNewBlock)
	all := eb.Subscribe(EventNewBlock, EventNewTx)

	eb.Publish(EventNewTx, "tx")
	eb.Publish(EventNewBlock, 7)

	ev := <-blocks.Chan()
	if ev.Type != EventNewBlock || ev.Data != 7 || !ev.Timestamp.Equal(stamp) {
		t.Errorf("event = %+v", ev)
	}
	select {
	case ev := <-blocks.Chan():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
	if ev := <-all.Chan(); ev.Type != EventNewTx {
		t.Errorf("first event = %v, want %v", ev.Type, EventNewTx)
	}
	if ev := <-all.Chan(); ev.Type != EventNewBlock {
		t.Errorf("second event = %v, want %v", ev.Type, EventNewBlock)
	}
	if got := eb.SubscriberCount(EventNewBlock); got != 2 {
		t.Errorf("subscribers = %d, want 2", got)
	}
	if got := eb.SubscriberCount(EventChainRevert); got != 0 {
		t.Errorf("revert subscribers = %d, want 0", got)
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	eb := NewEventBus(1, nil)
	sub := eb.Subscribe(EventNewTx)
	eb.Publish(EventNewTx, 1)
	eb.Publish(EventNewTx, 2)

	if ev := <-sub.Chan(); ev.Data != 1 {
		t.Errorf("data = %v, want 1", ev.Data)
	}
	select {
	case ev := <-sub.Chan():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(1, nil)
	sub := eb.Subscribe(EventNewTx)
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.Chan(); ok {
		t.Error("channel still open after Unsubscribe")
	}
	if got := eb.SubscriberCount(EventNewTx); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
	eb.Publish(EventNewTx, 1)
}

func TestEventBusClose(t *testing.T) {
	eb := NewEventBus(1, nil)
	sub := eb.Subscribe(EventNewBlock)
	eb.Close()
	eb.Close()

	if _, ok := <-sub.Chan(); ok {
		t.Error("channel still open after Close")
	}
	sub.Unsubscribe()

	late := eb.Subscribe(EventNewBlock)
	if _, ok := <-late.Chan(); ok {
		t.Error("subscription after Close is open")
	}
	eb.Publish(EventNewBlock, 1)
}
