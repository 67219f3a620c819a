package messenger

const feedBuffer = 16

// Subscribe returns a channel of change topics and a cancel func. A slow
// reader loses intermediate notifications, never the latest state: topics
// only say what to re-read.
func (m *Messenger) Subscribe() (<-chan Topic, func()) {
	ch := make(chan Topic, feedBuffer)
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once bool
	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Messenger) publish(t Topic) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
