package speech

import "sync"

// Microphone is the ownership token shared by the recognition consumers of
// one session. Only the holder may run a recognition session.
type Microphone struct {
	mu    sync.Mutex
	owner string
}

func NewMicrophone() *Microphone {
	return &Microphone{}
}

// Acquire claims the microphone for owner. Re-acquiring by the current
// holder succeeds. A nil Microphone never arbitrates.
func (m *Microphone) Acquire(owner string) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != "" && m.owner != owner {
		return ErrMicrophoneBusy
	}
	m.owner = owner
	return nil
}

// Release frees the microphone if owner holds it.
func (m *Microphone) Release(owner string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == owner {
		m.owner = ""
	}
}

func (m *Microphone) Owner() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}
