package fleet

import (
	"sync"
	"time"
)

// notifier coalesces change notification. Mutations call Tick; the
// capacity-1 channel collapses any burst into a single flush, so each
// subscriber sees one batched delivery per quiet point instead of one
// per field.
type notifier struct {
	model *Model
	tick  chan struct{}

	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Subscriber is one consumer of coalesced change batches.
type Subscriber struct {
	ch       chan []Change
	seq      int64
	debounce time.Duration
	last     time.Time
	n        *notifier
}

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	// Debounce is the minimum spacing between deliveries. Changes
	// landing inside the window are held and arrive in one batch when
	// it elapses. Zero delivers on every flush.
	Debounce time.Duration
}

// Changes delivers batches of change records in seq order.
func (s *Subscriber) Changes() <-chan []Change { return s.ch }

// Close detaches the subscriber and releases its interest in live
// updates.
func (s *Subscriber) Close() {
	s.n.mu.Lock()
	_, present := s.n.subs[s]
	delete(s.n.subs, s)
	s.n.mu.Unlock()
	if present {
		s.n.model.removeInterest()
	}
}

func newNotifier(m *Model) *notifier {
	return &notifier{
		model:  m,
		tick:   make(chan struct{}, 1),
		subs:   make(map[*Subscriber]struct{}),
		stopCh: make(chan struct{}),
	}
}

func (n *notifier) start() {
	n.wg.Add(1)
	go n.loop()
}

func (n *notifier) stop() {
	close(n.stopCh)
	n.wg.Wait()

	n.mu.Lock()
	for sub := range n.subs {
		close(sub.ch)
		delete(n.subs, sub)
	}
	n.mu.Unlock()
}

// Tick schedules a flush. Safe to call from anywhere, never blocks.
func (n *notifier) Tick() {
	select {
	case n.tick <- struct{}{}:
	default:
	}
}

func (n *notifier) loop() {
	defer n.wg.Done()
	var wake <-chan time.Time
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.tick:
		case <-wake:
			wake = nil
		}
		if wait := n.flush(); wait > 0 && wake == nil {
			// Someone is holding changes inside a debounce window;
			// come back when the earliest window opens.
			wake = time.After(wait)
		}
	}
}

// flush sends each subscriber the changes past its position. A
// subscriber inside its debounce window is held over; one whose
// channel is full is skipped. Neither advances its position, so both
// catch up on a later flush. Returns how long until the earliest
// held-over subscriber is due, zero when none is.
func (n *notifier) flush() time.Duration {
	n.mu.Lock()
	subs := make([]*Subscriber, 0, len(n.subs))
	for sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	var wait time.Duration
	now := time.Now()
	for _, sub := range subs {
		changes, err := n.model.store.ChangesSince(sub.seq)
		if err != nil {
			n.model.logger.Printf("FLEET: read changes for subscriber: %v", err)
			continue
		}
		if len(changes) == 0 {
			continue
		}
		if sub.debounce > 0 {
			if remaining := sub.debounce - now.Sub(sub.last); remaining > 0 {
				if wait == 0 || remaining < wait {
					wait = remaining
				}
				continue
			}
		}
		select {
		case sub.ch <- changes:
			sub.seq = changes[len(changes)-1].Seq
			sub.last = now
		default:
		}
	}
	return wait
}

// Subscribe registers a live-update consumer. The returned snapshot is
// the full fleet state at the subscriber's starting position; every
// change after it arrives on the subscriber's channel, paced by the
// requested debounce. The first subscriber wakes the model out of
// idle.
func (m *Model) Subscribe(opts SubscribeOptions) ([]PlayerState, *Subscriber, error) {
	seq, err := m.store.LastSeq()
	if err != nil {
		return nil, nil, err
	}
	snapshot := m.Players()

	sub := &Subscriber{
		ch:       make(chan []Change, 16),
		seq:      seq,
		debounce: opts.Debounce,
		n:        m.notifier,
	}
	m.notifier.mu.Lock()
	m.notifier.subs[sub] = struct{}{}
	m.notifier.mu.Unlock()

	m.addInterest()
	return snapshot, sub, nil
}
