package feed_test

import (
	"testing"

	"combinados/internal/feed"
)

func TestBroadcastAndTargeted(t *testing.T) {
	h := feed.NewHub()
	anaCh, cancelAna := h.Subscribe("ana")
	defer cancelAna()
	brunoCh, cancelBruno := h.Subscribe("bruno")
	defer cancelBruno()

	h.Publish(feed.Event{Table: "agreements", Action: "UPDATE", EntityID: "ag-1"})
	if ev := <-anaCh; ev.EntityID != "ag-1" {
		t.Fatalf("ana broadcast: %+v", ev)
	}
	if ev := <-brunoCh; ev.EntityID != "ag-1" {
		t.Fatalf("bruno broadcast: %+v", ev)
	}

	h.Publish(feed.Event{Table: "notifications", Action: "INSERT", RecipientID: "ana"})
	if ev := <-anaCh; ev.Table != "notifications" {
		t.Fatalf("ana targeted: %+v", ev)
	}
	select {
	case ev := <-brunoCh:
		t.Fatalf("bruno must not see ana's notification: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	h := feed.NewHub()
	ch, cancel := h.Subscribe("ana")
	defer cancel()

	// overflow the buffer; Publish must never block
	for i := 0; i < 200; i++ {
		h.Publish(feed.Event{Table: "agreements", Action: "UPDATE"})
	}
	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 || drained > 64 {
		t.Fatalf("expected up to one buffer of events, got %d", drained)
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	h := feed.NewHub()
	_, cancel := h.Subscribe("ana")
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}
	cancel()
	cancel() // double cancel is safe
	if h.Len() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", h.Len())
	}
}
