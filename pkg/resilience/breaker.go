// Package resilience - предохранитель (circuit breaker) для подключений к БД.
//
// Предохранитель общий для всех коннекторов одного источника данных: после
// MaxFailures неудачных подключений подряд новые попытки отклоняются сразу
// с ErrCircuitOpen, пока не истечет Timeout. Затем одно пробное подключение
// решает, закрыть предохранитель или снова открыть.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ruslano69/skdb/pkg/logging"
)

// ErrCircuitOpen - предохранитель открыт, подключение не выполнялось
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ExecuteFunc - защищаемая операция
type ExecuteFunc func(ctx context.Context) error

// Breaker - предохранитель одного источника данных
type Breaker struct {
	config       Config
	stateManager *stateManager
}

// New создает предохранитель
func New(config Config) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	if config.OnStateChange == nil {
		log := logging.Named("resilience")
		config.OnStateChange = func(name string, from, to State) {
			log.Warn().Str("datasource", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
		}
	}

	return &Breaker{
		config:       config,
		stateManager: newStateManager(config),
	}, nil
}

// Execute выполняет fn, если предохранитель не открыт, и учитывает результат
func (b *Breaker) Execute(ctx context.Context, fn ExecuteFunc) error {
	generation, err := b.stateManager.beforeRequest()
	if err != nil {
		return fmt.Errorf("%s: %w", b.config.Name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			b.stateManager.afterRequest(generation, false)
			panic(r)
		}
	}()

	err = fn(ctx)

	// отмена вызывающим не говорит о состоянии БД
	if errors.Is(err, context.Canceled) {
		return err
	}

	b.stateManager.afterRequest(generation, err == nil)
	return err
}

// State - текущее состояние
func (b *Breaker) State() State { return b.stateManager.getState() }

// Counts - счетчики текущего поколения
func (b *Breaker) Counts() Counts { return b.stateManager.getCounts() }

// Stats - снимок состояния
func (b *Breaker) Stats() Stats { return b.stateManager.getStats() }

// Reset возвращает предохранитель в Closed
func (b *Breaker) Reset() { b.stateManager.reset() }

// Name - имя источника данных
func (b *Breaker) Name() string { return b.config.Name }

func (b *Breaker) String() string {
	stats := b.Stats()
	return fmt.Sprintf("Breaker(%s state=%s failures=%d/%d)",
		b.config.Name,
		stats.State,
		stats.Counts.ConsecutiveFailures,
		b.config.MaxFailures,
	)
}

// Group - предохранители процесса по имени источника данных
type Group struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup создает пустую группу
func NewGroup() *Group {
	return &Group{breakers: make(map[string]*Breaker)}
}

// Default - группа процесса
var Default = NewGroup()

// GetOrCreate возвращает предохранитель источника, создавая его при первом обращении.
// Конфигурация последующих вызовов для того же имени игнорируется.
func (g *Group) GetOrCreate(name string, config Config) (*Breaker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b, nil
	}

	config.Name = name
	b, err := New(config)
	if err != nil {
		return nil, err
	}
	g.breakers[name] = b
	return b, nil
}

// Get возвращает предохранитель по имени
func (g *Group) Get(name string) (*Breaker, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	return b, ok
}

// Names возвращает имена источников в группе
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetAll закрывает все предохранители группы
func (g *Group) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.breakers {
		b.Reset()
	}
}
