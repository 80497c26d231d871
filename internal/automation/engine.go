//go:build !no_automation

// Package automation runs user Lua scripts against mesh events.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"domator-go/internal/mesh"
)

// Mesh is the part of the router scripts can drive.
type Mesh interface {
	Events() *mesh.EventBus
	SetOutput(relayID uint64, outputID string, on bool) error
	ToggleOutput(relayID uint64, outputID string) error
	OutputState(relayID uint64, outputID string) (on, known bool)
	MoveBlind(blind string, position int) error
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

const runTimeout = 5 * time.Second

// luaEventHandler is a callback registered with mesh.on. Every filter
// entry must equal the event field of the same name.
type luaEventHandler struct {
	eventType string
	filter    map[string]string
	fn        *lua.LFunction
}

// scriptVM is one running script. All Lua access goes through commands.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	handlers []luaEventHandler
	logf     func(msg string)
}

// Engine runs enabled scripts and feeds them mesh events.
type Engine struct {
	mesh      Mesh
	manager   *Manager
	logger    *slog.Logger
	systemCfg SystemConfig

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

func NewEngine(m Mesh, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig) *Engine {
	return &Engine{
		mesh:      m,
		manager:   mgr,
		logger:    logger.With("component", "automation"),
		systemCfg: sysCfg,
		vms:       make(map[string]*scriptVM),
	}
}

// Start subscribes to mesh events and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.mesh.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all scripts and unsubscribes from events.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// ReloadScript restarts a script after it was saved.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return err
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// Running returns the ids of running scripts.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// RunScript test-runs a stored script.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode runs code in a throwaway VM, then calls every handler it
// registered once with a synthetic event built from the handler filter.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logMu sync.Mutex
		logs  []string
	)
	vm := e.newVM(ctx, cancel)
	defer vm.state.Close()
	vm.state.SetContext(ctx)
	vm.logf = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: append([]string(nil), logs...), Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (" + runTimeout.String() + ")"
			}
		}
		return r
	}

	if err := vm.state.DoString(code); err != nil {
		return result(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		data := make(map[string]any, len(h.filter))
		for k, v := range h.filter {
			data[k] = v
		}
		if err := callHandler(vm.state, h.fn, mesh.Event{Type: h.eventType, Data: data}); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

// newVM builds a sandboxed Lua state with the script modules loaded.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerMeshModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel)
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VMs. A full queue drops
// the event for that VM.
func (e *Engine) dispatchEvent(event mesh.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			ok := vm.enqueue(func(L *lua.LState) {
				if err := callHandler(L, fn, event); err != nil {
					e.logger.Error("lua handler error", "event", event.Type, "err", err)
				}
			})
			if !ok {
				e.logger.Warn("script queue full, dropping event", "event", event.Type)
			}
		}
	}
}

// enqueue hands fn to the VM goroutine without blocking. Stopped VMs
// accept and ignore work.
func (vm *scriptVM) enqueue(fn func(*lua.LState)) bool {
	select {
	case <-vm.ctx.Done():
		return true
	default:
	}
	select {
	case vm.commands <- fn:
		return true
	default:
		return false
	}
}

func matchesHandler(h luaEventHandler, event mesh.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	for k, want := range h.filter {
		v, ok := event.Data[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func callHandler(L *lua.LState, fn *lua.LFunction, event mesh.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua handler panic: %v", r)
		}
	}()

	ev := L.NewTable()
	ev.RawSetString("type", lua.LString(event.Type))
	for k, v := range event.Data {
		ev.RawSetString(k, goToLua(L, v))
	}
	return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev)
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
