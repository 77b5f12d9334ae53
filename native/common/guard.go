package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// PauseController is a PauseView whose flags can be flipped by an operator.
type PauseController interface {
	PauseView
	SetPaused(module string, paused bool) error
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is an in-memory PauseController keyed by module name.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauses returns a controller with every module unpaused.
func NewPauses() *Pauses {
	return &Pauses{modules: make(map[string]bool)}
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[strings.ToLower(strings.TrimSpace(module))]
}

func (p *Pauses) SetPaused(module string, paused bool) error {
	if p == nil {
		return errors.New("pauses not configured")
	}
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return errors.New("module name required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modules == nil {
		p.modules = make(map[string]bool)
	}
	p.modules[key] = paused
	return nil
}
