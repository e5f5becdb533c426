// Copyright 2016 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package jrow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// tailToken is the wildcard that matches one or more trailing segments.
const tailToken = ">"

// starToken is the wildcard that matches exactly one segment.
const starToken = "*"

// RetentionKind enumerates the retention policies a topic prefix can carry.
type RetentionKind int

const (
	// PolicyNone keeps no history; new subscribers see only live publishes.
	PolicyNone RetentionKind = iota
	// PolicyLastN keeps the last N published messages per topic.
	PolicyLastN
	// PolicyWindow keeps all messages newer than a duration.
	PolicyWindow
)

// RetentionPolicy describes how much published history is replayed to a new
// subscriber before live delivery begins.
type RetentionPolicy struct {
	Kind   RetentionKind
	N      int           // for PolicyLastN
	Window time.Duration // for PolicyWindow
}

// None is the default retention policy: no buffering.
func None() RetentionPolicy { return RetentionPolicy{Kind: PolicyNone} }

// LastN retains the last n published messages per topic.
func LastN(n int) RetentionPolicy { return RetentionPolicy{Kind: PolicyLastN, N: n} }

// Window retains messages published within the last d.
func Window(d time.Duration) RetentionPolicy { return RetentionPolicy{Kind: PolicyWindow, Window: d} }

// retained is one buffered publish, kept for replay to late subscribers.
type retained struct {
	at      time.Time
	payload []byte
}

// retentionBuffer is the bounded ring described in spec §4.3, one per topic.
type retentionBuffer struct {
	mu     sync.Mutex
	policy RetentionPolicy
	items  []retained
}

func newRetentionBuffer(policy RetentionPolicy) *retentionBuffer {
	return &retentionBuffer{policy: policy}
}

func (b *retentionBuffer) append(payload []byte, now time.Time) {
	if b.policy.Kind == PolicyNone {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, retained{at: now, payload: payload})
	switch b.policy.Kind {
	case PolicyLastN:
		if over := len(b.items) - b.policy.N; over > 0 {
			b.items = b.items[over:]
		}
	case PolicyWindow:
		cutoff := now.Add(-b.policy.Window)
		i := 0
		for i < len(b.items) && b.items[i].at.Before(cutoff) {
			i++
		}
		if i > 0 {
			b.items = b.items[i:]
		}
	}
}

func (b *retentionBuffer) snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.items))
	for i, it := range b.items {
		out[i] = it.payload
	}
	return out
}

// delivery is one message handed to a subscriber: the concrete topic that
// was published (not the subscriber's pattern) paired with its payload, per
// spec §6's `{topic, data}` delivery shape.
type delivery struct {
	Topic   string
	Payload []byte
}

// subscriber is one registered delivery sink for pub/sub messages. The
// registry enqueues matching publishes onto ch, bounded to depth; overflow
// is handled per policy and counted.
type subscriber struct {
	handle  string
	pattern string
	ch      chan delivery
	depth   int
	policy  OverflowPolicy

	mu       sync.Mutex
	overflow uint64
}

func newSubscriber(handle, pattern string, depth int, policy OverflowPolicy) *subscriber {
	return &subscriber{handle: handle, pattern: pattern, ch: make(chan delivery, depth), depth: depth, policy: policy}
}

func (s *subscriber) enqueue(topic string, payload []byte) {
	d := delivery{Topic: topic, Payload: payload}
	select {
	case s.ch <- d:
		return
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overflow++
	switch s.policy {
	case DropNewest:
		// The new message is simply not enqueued.
	case DropOldest:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- d:
		default:
		}
	}
}

func (s *subscriber) overflowCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

// trieNode is one segment level of the pattern index. Patterns are inserted
// segment by segment; literal and "*" children are indexed separately from
// subscribers whose pattern ends in a ">" tail at this depth, per the trie
// layout spec §4.3 recommends for sub-linear publish-time lookup.
type trieNode struct {
	literal map[string]*trieNode
	star    *trieNode
	tail    map[string]*subscriber // handle -> subscriber, pattern ends ">" here
	exact   map[string]*subscriber // handle -> subscriber, pattern ends here
}

func newTrieNode() *trieNode {
	return &trieNode{literal: make(map[string]*trieNode)}
}

func (n *trieNode) insert(segs []string, sub *subscriber) {
	node := n
	for _, seg := range segs {
		if seg == tailToken {
			if node.tail == nil {
				node.tail = make(map[string]*subscriber)
			}
			node.tail[sub.handle] = sub
			return
		}
		var child *trieNode
		if seg == starToken {
			if node.star == nil {
				node.star = newTrieNode()
			}
			child = node.star
		} else {
			child = node.literal[seg]
			if child == nil {
				child = newTrieNode()
				node.literal[seg] = child
			}
		}
		node = child
	}
	if node.exact == nil {
		node.exact = make(map[string]*subscriber)
	}
	node.exact[sub.handle] = sub
}

func (n *trieNode) remove(segs []string, handle string) {
	node := n
	for _, seg := range segs {
		if seg == tailToken {
			delete(node.tail, handle)
			return
		}
		if seg == starToken {
			node = node.star
		} else {
			node = node.literal[seg]
		}
		if node == nil {
			return
		}
	}
	delete(node.exact, handle)
}

// match walks topic's segments against the trie, collecting every
// subscriber whose pattern admits topic.
func (n *trieNode) match(tSegs []string, idx int, out map[string]*subscriber) {
	for _, sub := range n.tail {
		if idx < len(tSegs) {
			out[sub.handle] = sub
		}
	}
	if idx == len(tSegs) {
		for _, sub := range n.exact {
			out[sub.handle] = sub
		}
		return
	}
	if child, ok := n.literal[tSegs[idx]]; ok {
		child.match(tSegs, idx+1, out)
	}
	if n.star != nil {
		n.star.match(tSegs, idx+1, out)
	}
}

// Registry indexes active subscriptions for wildcard matching on publish and
// owns the per-topic retention buffers described in spec §4.3. A single mutex
// guards the trie, subs and buffers together: Subscribe's retained-message
// replay and Publish's live match-and-append must never interleave, or a
// publish racing a subscribe could be delivered live ahead of its own
// replay, or be missed by both (spec invariant: replay precedes live
// delivery).
type Registry struct {
	mu       sync.Mutex
	subs     map[string]*subscriber // handle -> subscriber, for Unsubscribe/overflow lookup
	trie     *trieNode
	buffers  map[string]*retentionBuffer // topic -> buffer
	policies map[string]RetentionPolicy  // dotted prefix -> policy

	defaultOverflow OverflowPolicy
	queueDepth      int
	obs             *observability
}

// NewRegistry constructs an empty subscription registry.
func NewRegistry(policies map[string]RetentionPolicy, overflow OverflowPolicy, queueDepth int, obs *observability) *Registry {
	if obs == nil {
		obs = newObservability(ObservabilityConfig{})
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	p := make(map[string]RetentionPolicy, len(policies))
	for k, v := range policies {
		p[k] = v
	}
	return &Registry{
		subs:            make(map[string]*subscriber),
		trie:            newTrieNode(),
		buffers:         make(map[string]*retentionBuffer),
		policies:        p,
		defaultOverflow: overflow,
		queueDepth:      queueDepth,
		obs:             obs,
	}
}

// policyFor returns the retention policy for a topic, matching the longest
// configured dotted prefix, defaulting to PolicyNone.
func (r *Registry) policyFor(topic string) RetentionPolicy {
	best := ""
	policy := None()
	for prefix, p := range r.policies {
		if (topic == prefix || strings.HasPrefix(topic, prefix+".")) && len(prefix) >= len(best) {
			best = prefix
			policy = p
		}
	}
	return policy
}

// bufferForLocked returns topic's retention buffer, creating it if absent.
// Callers must hold r.mu.
func (r *Registry) bufferForLocked(topic string) *retentionBuffer {
	b, ok := r.buffers[topic]
	if !ok {
		b = newRetentionBuffer(r.policyFor(topic))
		r.buffers[topic] = b
	}
	return b
}

// Subscribe registers pattern and returns a handle and the channel onto
// which matching publishes (and any retained replay) are delivered. The
// retained-message snapshot, the trie insertion that makes this subscriber
// visible to Publish, and the enqueue of that snapshot all happen under one
// held lock, so a concurrent Publish either completes entirely before this
// Subscribe (and is included in the replay) or entirely after it (and is
// delivered live, strictly following the replay) — it can never land in
// between and be delivered out of order.
func (r *Registry) Subscribe(ctx context.Context, pattern string) (handle string, deliveries <-chan delivery, err error) {
	if err := validatePattern(pattern); err != nil {
		return "", nil, err
	}
	sub := newSubscriber(uuid.NewString(), pattern, r.queueDepth, r.defaultOverflow)
	segs := strings.Split(pattern, ".")

	r.mu.Lock()
	r.subs[sub.handle] = sub
	r.trie.insert(segs, sub)
	for topic, buf := range r.buffers {
		if patternMatches(pattern, topic) {
			for _, payload := range buf.snapshot() {
				sub.enqueue(topic, payload)
			}
		}
	}
	r.mu.Unlock()

	r.obs.subscriptionDelta(ctx, 1)
	return sub.handle, sub.ch, nil
}

// Unsubscribe removes a previously registered subscription. It is a no-op
// if the handle is unknown (already removed).
func (r *Registry) Unsubscribe(ctx context.Context, handle string) {
	r.mu.Lock()
	sub, ok := r.subs[handle]
	if ok {
		delete(r.subs, handle)
		r.trie.remove(strings.Split(sub.pattern, "."), handle)
	}
	r.mu.Unlock()
	if ok {
		close(sub.ch)
		r.obs.subscriptionDelta(ctx, -1)
	}
}

// Publish delivers payload to every subscriber whose pattern matches topic
// and appends it to topic's retention buffer. It returns the number of
// subscribers the message was handed to (post-overflow-policy). Matching,
// live delivery and the retention append all happen under r.mu, matching
// Subscribe's replay section so the two can never interleave.
func (r *Registry) Publish(ctx context.Context, topic string, payload []byte) int {
	tSegs := strings.Split(topic, ".")
	matched := make(map[string]*subscriber)

	r.mu.Lock()
	r.trie.match(tSegs, 0, matched)
	for _, s := range matched {
		s.enqueue(topic, payload)
	}
	r.bufferForLocked(topic).append(payload, time.Now())
	r.mu.Unlock()

	r.obs.publishCount(ctx, topicPrefix(topic), len(matched))
	return len(matched)
}

// PublishBatch publishes each (topic, payload) pair independently;
// atomicity across entries is not required (spec §4.5).
func (r *Registry) PublishBatch(ctx context.Context, entries []struct {
	Topic   string
	Payload []byte
}) []int {
	results := make([]int, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			results[i] = r.Publish(gctx, e.Topic, e.Payload)
			return nil
		})
	}
	_ = g.Wait() // Publish never errors; Wait only bounds fan-out completion.
	return results
}

func topicPrefix(topic string) string {
	if i := strings.IndexByte(topic, '.'); i >= 0 {
		return topic[:i]
	}
	return topic
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return &invalidParamsError{"pattern must not be empty"}
	}
	segs := strings.Split(pattern, ".")
	for i, s := range segs {
		if s == "" {
			return &invalidParamsError{"pattern segments must not be empty"}
		}
		if s == tailToken && i != len(segs)-1 {
			return &invalidParamsError{"'>' must be the final segment of a pattern"}
		}
	}
	return nil
}

// patternMatches reports whether pattern admits topic, per spec §4.3:
// "*" matches exactly one segment, a trailing ">" matches one or more
// remaining segments, otherwise segments must compare equal.
func patternMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	for i, p := range pSegs {
		if p == tailToken {
			return i < len(tSegs)
		}
		if i >= len(tSegs) {
			return false
		}
		if p == starToken {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
