package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(T("wire", "Y1"))
	defer sub.Unsubscribe()

	conn.Publish(conn.NewMessage(T("wire", "Y1"), "on", false))

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "on" {
			t.Fatalf("payload = %v, want on", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRetainedDeliveredToLateSubscriber(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")
	conn.Publish(conn.NewMessage(T("wire", "Y1"), "on", true))

	sub := conn.Subscribe(T("wire", "Y1"))
	defer sub.Unsubscribe()

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "on" {
			t.Fatalf("payload = %v, want on", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive retained snapshot")
	}
}

func TestMultiWildcardMatchesAnySuffix(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(T("wire", "#"))
	defer sub.Unsubscribe()

	conn.Publish(conn.NewMessage(T("wire", "Y1"), "on", false))
	conn.Publish(conn.NewMessage(T("wire", "G"), "off", false))

	for i := 0; i < 2; i++ {
		select {
		case <-sub.Channel():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard delivery")
		}
	}
}

func TestRequestReply(t *testing.T) {
	b := New(4)
	server := b.NewConnection("server")
	client := b.NewConnection("client")

	sub := server.Subscribe(T("control"))
	go func() {
		msg := <-sub.Channel()
		server.Reply(msg, "pong")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := client.RequestWait(ctx, client.NewMessage(T("control"), "ping", false))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Payload != "pong" {
		t.Fatalf("reply = %v, want pong", reply.Payload)
	}
}

func TestRequestWaitTimesOut(t *testing.T) {
	b := New(4)
	client := b.NewConnection("client")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := client.RequestWait(ctx, client.NewMessage(T("nobody-listens"), "ping", false))
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}
