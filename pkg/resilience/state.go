package resilience

import (
	"fmt"
	"sync"
	"time"
)

// State - состояние предохранителя
type State int

const (
	// StateClosed - подключения разрешены
	StateClosed State = iota

	// StateHalfOpen - пробное подключение после Timeout
	StateHalfOpen

	// StateOpen - подключения отклоняются без обращения к БД
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Counts - счетчики текущего поколения
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Stats - снимок состояния
type Stats struct {
	State             State
	Generation        uint64
	Counts            Counts
	LastStateChange   time.Time
	TimeUntilHalfOpen time.Duration
}

// stateManager - машина состояний. Результат вызова, начатого в другом
// поколении, игнорируется.
type stateManager struct {
	mu              sync.Mutex
	state           State
	generation      uint64
	counts          Counts
	expiry          time.Time
	config          Config
	lastStateChange time.Time
	now             func() time.Time
}

func newStateManager(config Config) *stateManager {
	return &stateManager{
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// transition меняет состояние; вызывается под mu
func (sm *stateManager) transition(to State) {
	from := sm.state
	if from == to {
		return
	}

	sm.state = to
	sm.generation++
	sm.counts = Counts{}
	sm.lastStateChange = sm.now()
	if to == StateOpen {
		sm.expiry = sm.now().Add(sm.config.Timeout)
	}

	if sm.config.OnStateChange != nil {
		go sm.config.OnStateChange(sm.config.Name, from, to)
	}
}

func (sm *stateManager) getState() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.expire()
	return sm.state
}

// expire переводит Open в Half-Open по истечении Timeout; вызывается под mu
func (sm *stateManager) expire() {
	if sm.state == StateOpen && sm.now().After(sm.expiry) {
		sm.transition(StateHalfOpen)
	}
}

func (sm *stateManager) beforeRequest() (uint64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.expire()
	if sm.state == StateOpen {
		return sm.generation, ErrCircuitOpen
	}
	return sm.generation, nil
}

func (sm *stateManager) afterRequest(generation uint64, success bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if generation != sm.generation {
		return
	}

	sm.counts.Requests++
	if success {
		sm.counts.TotalSuccesses++
		sm.counts.ConsecutiveSuccesses++
		sm.counts.ConsecutiveFailures = 0

		if sm.state == StateHalfOpen && sm.counts.ConsecutiveSuccesses >= sm.config.SuccessThreshold {
			sm.transition(StateClosed)
		}
		return
	}

	sm.counts.TotalFailures++
	sm.counts.ConsecutiveFailures++
	sm.counts.ConsecutiveSuccesses = 0

	switch sm.state {
	case StateClosed:
		if sm.counts.ConsecutiveFailures >= sm.config.MaxFailures {
			sm.transition(StateOpen)
		}
	case StateHalfOpen:
		// любая ошибка пробного подключения снова открывает предохранитель
		sm.transition(StateOpen)
	}
}

func (sm *stateManager) getCounts() Counts {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.counts
}

func (sm *stateManager) getStats() Stats {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.expire()

	var untilHalfOpen time.Duration
	if sm.state == StateOpen {
		untilHalfOpen = max(sm.expiry.Sub(sm.now()), 0)
	}

	return Stats{
		State:             sm.state,
		Generation:        sm.generation,
		Counts:            sm.counts,
		LastStateChange:   sm.lastStateChange,
		TimeUntilHalfOpen: untilHalfOpen,
	}
}

func (sm *stateManager) reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.state = StateClosed
	sm.generation++
	sm.counts = Counts{}
	sm.expiry = time.Time{}
	sm.lastStateChange = sm.now()
}
