// Package bus implements the in-process publish/subscribe and
// request/reply substrate (C3) that every other component talks
// through, plus the authenticated network transport that lets the
// relay driver, weather driver and thermostat controller run as
// separate processes/hosts while keeping the same API.
//
// The pub/sub core is adapted from a generic topic-trie bus used
// elsewhere in this codebase's sibling projects: topics are token
// slices with single ("+") and multi ("#") wildcards, subscriptions
// receive retained messages immediately upon subscribing (the late-join
// snapshot semantics the backplate's subscribe-notification handling
// needs), and delivery is non-blocking with oldest-message eviction
// rather than ever stalling the publisher.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
)

const defaultQueueLen = 8

// Token is one path element of a Topic ("wire", "Y1", "weather", ...).
type Token = string

// Topic addresses a message or a subscription pattern.
type Topic []Token

// T builds a Topic from its tokens.
func T(tokens ...Token) Topic { return Topic(tokens) }

const (
	singleWildcard = "+"
	multiWildcard  = "#"
)

// Message is the envelope carried over the bus. Payload is typically a
// *busproto.Event or *busproto.Request/RequestReply, kept as `any` so
// the bus itself stays independent of the wire schema.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
	ID       uint32
}

func genReplyToken() Token {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Subscription is a live registration on the Bus.
type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

// Topic returns the pattern this subscription was registered with.
func (s *Subscription) Topic() Topic { return s.topic }

// Channel delivers messages matching Topic in publish order; when the
// queue is full, the oldest queued message is dropped to make room.
func (s *Subscription) Channel() <-chan *Message { return s.ch }

// Unsubscribe removes the subscription.
func (s *Subscription) Unsubscribe() { s.conn.Unsubscribe(s) }

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func ensureChild(n *node, t Token) *node {
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	if n.children[t] == nil {
		n.children[t] = &node{}
	}
	return n.children[t]
}

// Bus is the shared pub/sub core. One Bus exists per process; every
// Connection (local component, or network peer handler) publishes
// through it.
type Bus struct {
	mu    sync.Mutex
	root  *node
	qLen  int
	idCtr atomic.Uint32
}

// New creates a Bus with the given per-subscription queue depth (0 uses
// a sensible default).
func New(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

func (b *Bus) nextID() uint32 { return b.idCtr.Add(1) }

// NewMessage builds a Message stamped with the next bus-wide ID.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained, ID: b.nextID()}
}

func (b *Bus) addSubscription(topic Topic, sub *Subscription) {
	b.mu.Lock()
	n := b.root
	for _, t := range topic {
		n = ensureChild(n, t)
	}
	n.subs = append(n.subs, sub)

	var retained []*Message
	b.collectRetainedLocked(b.root, topic, 0, &retained)
	b.mu.Unlock()

	for _, rm := range retained {
		b.tryDeliver(sub, rm)
	}
}

// Publish delivers msg to every matching subscriber. If msg.Retained is
// set, it also becomes the snapshot a future subscriber whose pattern
// matches this topic (exactly or through + / # wildcards) receives
// immediately upon subscribing — this is how a
// late-joining client learns the current state of every wire without
// the publisher needing to track joiners itself.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	var subs []*Subscription
	b.collectSubscribersLocked(b.root, msg.Topic, 0, &subs)

	if msg.Retained {
		b.retainSetLocked(msg)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.tryDeliver(sub, msg)
	}
}

func trySend(ch chan *Message, m *Message) bool {
	select {
	case ch <- m:
		return true
	default:
		return false
	}
}

func drainOne(ch chan *Message) {
	select {
	case <-ch:
	default:
	}
}

func (b *Bus) tryDeliver(sub *Subscription, msg *Message) {
	defer func() { _ = recover() }()
	if trySend(sub.ch, msg) {
		return
	}
	drainOne(sub.ch)
	_ = trySend(sub.ch, msg)
}

func (b *Bus) unsubscribe(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range topic {
		if n.children == nil {
			return
		}
		child := n.children[t]
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	b.pruneEmptyLocked(stack, topic)
}

func (b *Bus) pruneEmptyLocked(stack []*node, path Topic) {
	for i := len(path) - 1; i >= 0; i-- {
		parent := stack[i]
		key := path[i]
		child := parent.children[key]
		if child != nil && len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

func (b *Bus) collectSubscribersLocked(n *node, topic Topic, depth int, out *[]*Subscription) {
	if n == nil {
		return
	}
	if depth == len(topic) {
		*out = append(*out, n.subs...)
		if n.children != nil {
			if mw := n.children[multiWildcard]; mw != nil {
				*out = append(*out, mw.subs...)
			}
		}
		return
	}
	tok := topic[depth]
	if n.children != nil {
		if child := n.children[tok]; child != nil {
			b.collectSubscribersLocked(child, topic, depth+1, out)
		}
		if sw := n.children[singleWildcard]; sw != nil {
			b.collectSubscribersLocked(sw, topic, depth+1, out)
		}
		if mw := n.children[multiWildcard]; mw != nil {
			*out = append(*out, mw.subs...)
		}
	}
}

func (b *Bus) retainSetLocked(msg *Message) {
	n := b.root
	for _, t := range msg.Topic {
		n = ensureChild(n, t)
	}
	n.retained = msg
}

func (b *Bus) collectRetainedLocked(n *node, pattern Topic, depth int, out *[]*Message) {
	if n == nil {
		return
	}
	if depth == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	ptok := pattern[depth]
	switch ptok {
	case multiWildcard:
		b.collectAllRetainedLocked(n, out)
	case singleWildcard:
		for _, child := range n.children {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	default:
		if child := n.children[ptok]; child != nil {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	}
}

func (b *Bus) collectAllRetainedLocked(n *node, out *[]*Message) {
	if n == nil {
		return
	}
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, child := range n.children {
		b.collectAllRetainedLocked(child, out)
	}
}

// Connection is one client's handle onto a Bus: a local component, or
// the local side of an authenticated network peer.
type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection opens a Connection identified by id (used only for
// diagnostics/status pages).
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers topic (which may contain wildcards) and
// immediately delivers any retained snapshot matching it.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.bus.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	c.subs = removeSub(c.subs, sub)
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect tears down every subscription this connection holds.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub.topic, sub)
		close(sub.ch)
	}
}

func removeSub(list []*Subscription, target *Subscription) []*Subscription {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Request publishes msg on a fresh reply topic and returns the
// subscription waiting for the answer.
func (c *Connection) Request(msg *Message) *Subscription {
	if len(msg.ReplyTo) == 0 {
		msg.ReplyTo = T("reply", genReplyToken())
	}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait publishes msg and blocks for its reply or ctx's
// cancellation, whichever comes first — the Go equivalent of a
// ZMQ_REQ/ZMQ_REP round trip bounded by a poll timeout.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)

	select {
	case m := <-sub.ch:
		if m == nil {
			return nil, errors.New("bus: subscription closed while waiting for reply")
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers a received request message.
func (c *Connection) Reply(to *Message, payload any) {
	if len(to.ReplyTo) == 0 {
		return
	}
	c.Publish(&Message{Topic: to.ReplyTo, Payload: payload, ID: c.bus.nextID()})
}
