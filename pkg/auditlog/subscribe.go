package auditlog

// Subscription delivers entries appended after it was created.
//
// The writer never blocks on a subscriber. When a subscriber's buffer is
// full it is evicted and C is closed; the consumer resumes from Query using
// the last sequence it saw.
type Subscription struct {
	C   <-chan *Entry
	ch  chan *Entry
	log *Log
}

// Subscribe registers a new live subscription with the given buffer size.
func (l *Log) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Entry, buffer)
	sub := &Subscription{C: ch, ch: ch, log: l}

	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()
	return sub
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.log.evict(s)
}

// publish must be called with l.mu held.
func (l *Log) publish(e *Entry) {
	for sub := range l.subs {
		select {
		case sub.ch <- e:
		default:
			l.logger.Warn("evicting slow audit subscriber", "sequence", e.Sequence)
			l.evict(sub)
		}
	}
}

// evict must be called with l.mu held.
func (l *Log) evict(sub *Subscription) {
	if _, ok := l.subs[sub]; !ok {
		return
	}
	delete(l.subs, sub)
	close(sub.ch)
}

// Subscribers reports the number of live subscriptions.
func (l *Log) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
