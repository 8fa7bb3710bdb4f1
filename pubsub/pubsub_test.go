package pubsub

import (
	"errors"
	"testing"
)

type fakeSubscriber struct {
	id   string
	fail bool
	got  []Message
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg Message) error {
	if f.fail {
		return errors.New("subscriber full")
	}
	f.got = append(f.got, msg)
	return nil
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	m := New()
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	m.Subscribe("room", a, nil)
	m.Subscribe("room", b, nil)

	delivered, dropped := m.Publish("room", "hello")
	if delivered != 2 || dropped != 0 {
		t.Fatalf("expected 2 delivered 0 dropped, got %d/%d", delivered, dropped)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatal("expected both subscribers to receive the message")
	}
}

func TestPublishDropsFailingSubscriberButContinues(t *testing.T) {
	m := New()
	ok := &fakeSubscriber{id: "ok"}
	bad := &fakeSubscriber{id: "bad", fail: true}
	m.Subscribe("room", ok, nil)
	m.Subscribe("room", bad, nil)

	delivered, dropped := m.Publish("room", "hello")
	if delivered != 1 || dropped != 1 {
		t.Fatalf("expected 1 delivered 1 dropped, got %d/%d", delivered, dropped)
	}
	if m.Dropped() != 1 {
		t.Fatalf("expected cumulative dropped counter of 1, got %d", m.Dropped())
	}
}

func TestRemoveConnectionClearsAllChannels(t *testing.T) {
	m := New()
	sub := &fakeSubscriber{id: "conn-1"}
	m.Subscribe("room-a", sub, nil)
	m.Subscribe("room-b", sub, nil)

	m.RemoveConnection("conn-1")

	if m.SubscriberCount("room-a") != 0 || m.SubscriberCount("room-b") != 0 {
		t.Fatal("expected subscriber removed from every channel")
	}
	delivered, _ := m.Publish("room-a", "after disconnect")
	if delivered != 0 {
		t.Fatalf("expected no delivery after disconnect, got %d", delivered)
	}
}

func TestPublishSkipsSubscribersWhoseFilterRejectsThePayload(t *testing.T) {
	m := New()
	evens := &fakeSubscriber{id: "evens"}
	all := &fakeSubscriber{id: "all"}
	m.Subscribe("numbers", evens, func(payload any) bool {
		return payload.(int)%2 == 0
	})
	m.Subscribe("numbers", all, nil)

	delivered, dropped := m.Publish("numbers", 3)
	if delivered != 1 || dropped != 0 {
		t.Fatalf("expected 1 delivered (filter rejects, not drops) 0 dropped, got %d/%d", delivered, dropped)
	}
	if len(evens.got) != 0 {
		t.Fatal("expected the filtered subscriber to receive nothing for an odd payload")
	}
	if len(all.got) != 1 {
		t.Fatal("expected the unfiltered subscriber to receive the payload")
	}

	delivered, _ = m.Publish("numbers", 4)
	if delivered != 2 {
		t.Fatalf("expected both subscribers to receive an even payload, got %d delivered", delivered)
	}
}

func TestUnsubscribeRemovesOnlyOneChannel(t *testing.T) {
	m := New()
	sub := &fakeSubscriber{id: "conn-1"}
	m.Subscribe("room-a", sub, nil)
	m.Subscribe("room-b", sub, nil)

	m.Unsubscribe("room-a", "conn-1")

	if m.SubscriberCount("room-a") != 0 {
		t.Fatal("expected room-a subscription removed")
	}
	if m.SubscriberCount("room-b") != 1 {
		t.Fatal("expected room-b subscription to remain")
	}
}
