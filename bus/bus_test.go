package bus

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// capTopic mirrors the storage capability layout:
// hal/cap/storage/eeprom/<name>/<rest...>
func capTopic(name string, rest ...Token) Topic {
	return T("hal", "cap", "storage", "eeprom", name).Append(rest...)
}

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("nothing received on %v", sub.Topic())
		return nil
	}
}

func none(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected %v on %v", m.Topic, sub.Topic())
	case <-time.After(40 * time.Millisecond):
	}
}

// payloads takes n messages and returns their string payloads sorted.
func payloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, ok := recv(t, sub).Payload.(string)
		if !ok {
			t.Fatalf("non-string payload on %v", sub.Topic())
		}
		out = append(out, s)
	}
	slices.Sort(out)
	none(t, sub)
	return out
}

func TestControlWildcardRouting(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("storage")
	ctrl := c.Subscribe(T("hal", "cap", "storage", "eeprom", "+", "control", "+"))

	cases := []struct {
		topic Topic
		match bool
	}{
		{capTopic("eeprom0", "control", "read"), true},
		{capTopic("eeprom1", "control", "write"), true},
		{capTopic("eeprom0", "info"), false},
		{capTopic("eeprom0", "control"), false},
		{capTopic("eeprom0", "control", "read", "extra"), false},
		{T("hal", "cap", "storage", "flash", "f0", "control", "read"), false},
	}
	for _, tc := range cases {
		c.Publish(b.NewMessage(tc.topic, "x", false))
		if tc.match {
			if m := recv(t, ctrl); m.Topic.At(4) != tc.topic.At(4) || m.Topic.At(6) != tc.topic.At(6) {
				t.Fatalf("got %v, want %v", m.Topic, tc.topic)
			}
		} else {
			none(t, ctrl)
		}
	}
}

func TestMultiLevelWildcard(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("ui")
	all := c.Subscribe(T("hal", "#"))
	caps := c.Subscribe(T("hal", "cap", "storage", "#"))
	exact := c.Subscribe(T("hal", "cap", "storage"))

	c.Publish(b.NewMessage(T("hal", "storage", "state"), "ready", false))
	if got := recv(t, all).Payload; got != "ready" {
		t.Fatalf("hal/# got %v", got)
	}
	none(t, caps)

	c.Publish(b.NewMessage(capTopic("eeprom0", "status"), "up", false))
	recv(t, all)
	recv(t, caps)
	none(t, exact)

	// "#" also matches its parent level.
	c.Publish(b.NewMessage(T("hal", "cap", "storage"), "root", false))
	recv(t, all)
	recv(t, caps)
	recv(t, exact)
}

func publishDevice(c *Connection, name string) {
	c.Publish(c.NewMessage(capTopic(name, "info"), name+"/info", true))
	c.Publish(c.NewMessage(capTopic(name, "status"), name+"/status", true))
}

func TestRetainedReplayToLateSubscribers(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("storage")
	publishDevice(c, "e0")
	publishDevice(c, "e1")

	infos := c.Subscribe(capTopic("+", "info"))
	if got := payloads(t, infos, 2); !slices.Equal(got, []string{"e0/info", "e1/info"}) {
		t.Fatalf("+/info replay = %v", got)
	}

	e0 := c.Subscribe(capTopic("e0", "#"))
	if got := payloads(t, e0, 2); !slices.Equal(got, []string{"e0/info", "e0/status"}) {
		t.Fatalf("e0/# replay = %v", got)
	}
}

func TestRetainedOverwrite(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("storage")
	c.Publish(c.NewMessage(capTopic("e0", "status"), "down", true))
	c.Publish(c.NewMessage(capTopic("e0", "status"), "up", true))

	s := c.Subscribe(capTopic("e0", "status"))
	if got := payloads(t, s, 1); got[0] != "up" {
		t.Fatalf("replayed %v, want only the latest", got)
	}
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("storage")
	publishDevice(c, "e0")
	publishDevice(c, "e1")

	live := c.Subscribe(capTopic("e1", "info"))
	recv(t, live) // retained

	// Device removal clears both retained topics.
	c.Publish(c.NewMessage(capTopic("e1", "info"), nil, true))
	c.Publish(c.NewMessage(capTopic("e1", "status"), nil, true))

	// Current subscribers still see the clear itself.
	if m := recv(t, live); m.Payload != nil || !m.Retained {
		t.Fatalf("clear delivered as %+v", m)
	}

	late := c.Subscribe(capTopic("+", "#"))
	if got := payloads(t, late, 2); !slices.Equal(got, []string{"e0/info", "e0/status"}) {
		t.Fatalf("after clear = %v", got)
	}

	// Clearing something never retained is harmless.
	c.Publish(c.NewMessage(capTopic("nope", "info"), nil, true))
	none(t, c.Subscribe(capTopic("nope", "info")))
}

func TestRequestUsesPrivateReplyTopics(t *testing.T) {
	b := NewBus(8)
	client := b.NewConnection("cli")
	server := b.NewConnection("storage")
	ctrl := server.Subscribe(capTopic("+", "control", "+"))

	r1 := client.NewMessage(capTopic("e0", "control", "read"), "first", false)
	r2 := client.NewMessage(capTopic("e0", "control", "read"), "second", false)
	s1 := client.Request(r1)
	s2 := client.Request(r2)
	defer client.Unsubscribe(s1)
	defer client.Unsubscribe(s2)

	for _, r := range []*Message{r1, r2} {
		if r.ReplyTo.Len() != 3 || r.ReplyTo.At(0) != "_reply" || r.ReplyTo.At(1) != "cli" {
			t.Fatalf("ReplyTo = %v", r.ReplyTo)
		}
	}
	if r1.ReplyTo.At(2) == r2.ReplyTo.At(2) {
		t.Fatalf("reply topics collide: %v", r1.ReplyTo)
	}

	// Answer out of order; each reply lands only on its own request.
	got1, got2 := recv(t, ctrl), recv(t, ctrl)
	server.Reply(got2, "for-"+got2.Payload.(string), false)
	server.Reply(got1, "for-"+got1.Payload.(string), false)

	if p := recv(t, s1).Payload; p != "for-first" {
		t.Fatalf("first request got %v", p)
	}
	if p := recv(t, s2).Payload; p != "for-second" {
		t.Fatalf("second request got %v", p)
	}
	none(t, s1)
	none(t, s2)
}

func TestRequestWait(t *testing.T) {
	b := NewBus(8)
	client := b.NewConnection("cli")
	server := b.NewConnection("storage")
	ctrl := server.Subscribe(capTopic("+", "control", "+"))
	go func() {
		for m := range ctrl.Channel() {
			server.Reply(m, m.Topic.At(6), false)
		}
	}()
	defer server.Unsubscribe(ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := client.NewMessage(capTopic("e0", "control", "write"), nil, false)
	r, err := client.RequestWait(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if r.Payload != "write" || r.Topic.At(0) != "_reply" {
		t.Fatalf("reply %v on %v", r.Payload, r.Topic)
	}

	// Nobody serves other capabilities.
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = client.RequestWait(ctx, client.NewMessage(T("hal", "cap", "io", "x", "control", "read"), nil, false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline", err)
	}
}

func TestReplyWithoutReplyToIsNoop(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	all := c.Subscribe(T("#"))
	m := b.NewMessage(capTopic("e0", "control", "read"), nil, false)
	if m.CanReply() {
		t.Fatal("plain publish should not want a reply")
	}
	c.Reply(m, "ignored", false)
	none(t, all)
}

func TestAppendDoesNotAlias(t *testing.T) {
	base := capTopic("e0")
	info := base.Append("info")
	status := base.Append("status")

	if base.Len() != 5 || info.Len() != 6 || status.Len() != 6 {
		t.Fatalf("unexpected lengths: %d %d %d", base.Len(), info.Len(), status.Len())
	}
	if info.At(5) != "info" || status.At(5) != "status" {
		t.Fatalf("append aliased: %v %v", info, status)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(capTopic("e0", "status"))
	c.Unsubscribe(s)
	c.Unsubscribe(s)

	if _, ok := <-s.Channel(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	c.Publish(b.NewMessage(capTopic("e0", "status"), "up", false))
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(capTopic("e0", "status"))

	for _, p := range []string{"down", "up", "degraded"} {
		c.Publish(b.NewMessage(capTopic("e0", "status"), p, false))
	}
	if got := recv(t, s).Payload; got != "up" {
		t.Fatalf("oldest kept = %v, want up", got)
	}
	if got := recv(t, s).Payload; got != "degraded" {
		t.Fatalf("newest = %v, want degraded", got)
	}
}

func TestDisconnectClosesAll(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s1 := c.Subscribe(T("config", "storage"))
	s2 := c.Subscribe(capTopic("+", "control", "+"))
	c.Disconnect()

	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatal("expected closed channel")
		}
	}
}

func TestNonComparableTokensPanic(t *testing.T) {
	for name, tok := range map[string]Token{
		"nil":   nil,
		"slice": []byte{1},
		"map":   map[string]int{},
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("T(%s) did not panic", name)
				}
			}()
			_ = T("hal", tok)
		})
	}
}
