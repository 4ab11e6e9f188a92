// Package fsm 提供通用的有限状态机，会话状态以转移表的形式声明.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidTransition 无效的状态转移.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrHandlerFailed 处理器执行失败.
	ErrHandlerFailed = errors.New("fsm handler failed")
)

// Handler 定义状态流转时执行的回调函数，返回错误时转移取消.
type Handler[S comparable] func(ctx context.Context, from, to S, args ...any) error

// Observer 转移完成后调用，用于日志与指标.
type Observer[S comparable, E comparable] func(ctx context.Context, from, to S, event E)

// Machine 封装了有限状态机的核心状态与流转逻辑.
type Machine[S comparable, E comparable] struct {
	mu          sync.RWMutex
	transitions map[S]map[E]S
	handlers    map[S]map[S]Handler[S]
	observers   []Observer[S, E]
	current     S
}

// NewMachine 创建一个新的状态机.
func NewMachine[S comparable, E comparable](initial S) *Machine[S, E] {
	return &Machine[S, E]{
		current:     initial,
		transitions: make(map[S]map[E]S),
		handlers:    make(map[S]map[S]Handler[S]),
	}
}

// AddTransition 添加一条状态转移规则.
func (m *Machine[S, E]) AddTransition(from S, event E, to S) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[E]S)
	}
	m.transitions[from][event] = to
}

// AddTransitions 为多个源状态添加同一事件.
func (m *Machine[S, E]) AddTransitions(froms []S, event E, to S) {
	for _, from := range froms {
		m.AddTransition(from, event, to)
	}
}

// AddHandler 为特定的状态转移注册回调动作.
func (m *Machine[S, E]) AddHandler(from, to S, handler Handler[S]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handlers[from]; !ok {
		m.handlers[from] = make(map[S]Handler[S])
	}
	m.handlers[from][to] = handler
}

// Observe 注册转移观察者.
func (m *Machine[S, E]) Observe(o Observer[S, E]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Current 获取状态机当前所处的状态.
func (m *Machine[S, E]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Can 报告当前状态是否接受 event.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transitions[m.current][event]
	return ok
}

// Trigger 触发一个事件，观察者在锁外调用.
func (m *Machine[S, E]) Trigger(ctx context.Context, event E, args ...any) error {
	m.mu.Lock()
	from := m.current
	to, ok := m.transitions[from][event]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: event %v for state %v", ErrInvalidTransition, event, from)
	}

	if handler, okH := m.handlers[from][to]; okH {
		if err := handler(ctx, from, to, args...); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("%w (%v -> %v): %w", ErrHandlerFailed, from, to, err)
		}
	}
	m.current = to
	observers := m.observers
	m.mu.Unlock()

	for _, o := range observers {
		o(ctx, from, to, event)
	}
	return nil
}
