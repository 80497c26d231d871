//go:build !no_automation

package automation

import (
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerMeshModule installs the `mesh` global:
//
//	mesh.on(type, [filter], fn)
//	mesh.set(relay, output, on)
//	mesh.toggle(relay, output)
//	mesh.state(relay, output) -> bool | nil
//	mesh.blind(blind, position)
//	mesh.after(seconds, fn)
//	mesh.log(msg)
func registerMeshModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"on":     func(L *lua.LState) int { return meshOn(L, vm) },
		"set":    func(L *lua.LState) int { return meshSet(L, e) },
		"toggle": func(L *lua.LState) int { return meshToggle(L, e) },
		"state":  func(L *lua.LState) int { return meshState(L, e) },
		"blind":  func(L *lua.LState) int { return meshBlind(L, e) },
		"after":  func(L *lua.LState) int { return meshAfter(L, vm, e) },
		"log":    func(L *lua.LState) int { return meshLog(L, vm, e) },
	})
	L.SetGlobal("mesh", mod)
}

func meshOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		h.filter = make(map[string]string)
		tbl.ForEach(func(k, v lua.LValue) {
			h.filter[k.String()] = v.String()
		})
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// checkDeviceID accepts a device id as a Lua number or a decimal string.
func checkDeviceID(L *lua.LState, n int) uint64 {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		if v < 0 || float64(v) != float64(uint64(v)) {
			L.ArgError(n, "device id must be a non-negative integer")
		}
		return uint64(v)
	case lua.LString:
		id, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			L.ArgError(n, "device id must be decimal")
		}
		return id
	}
	L.ArgError(n, "device id expected")
	return 0
}

func meshSet(L *lua.LState, e *Engine) int {
	relay := checkDeviceID(L, 1)
	output := L.CheckString(2)
	on := L.ToBool(3)
	if err := e.mesh.SetOutput(relay, output, on); err != nil {
		e.logger.Warn("mesh.set", "relay", relay, "output", output, "err", err)
	}
	return 0
}

func meshToggle(L *lua.LState, e *Engine) int {
	relay := checkDeviceID(L, 1)
	output := L.CheckString(2)
	if err := e.mesh.ToggleOutput(relay, output); err != nil {
		e.logger.Warn("mesh.toggle", "relay", relay, "output", output, "err", err)
	}
	return 0
}

func meshState(L *lua.LState, e *Engine) int {
	on, known := e.mesh.OutputState(checkDeviceID(L, 1), L.CheckString(2))
	if !known {
		L.Push(lua.LNil)
	} else {
		L.Push(lua.LBool(on))
	}
	return 1
}

func meshBlind(L *lua.LState, e *Engine) int {
	blind := L.CheckString(1)
	pos := L.CheckInt(2)
	if err := e.mesh.MoveBlind(blind, pos); err != nil {
		e.logger.Warn("mesh.blind", "blind", blind, "err", err)
	}
	return 0
}

// mesh.after(seconds, fn) runs fn on the script goroutine later.
func meshAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		ok := vm.enqueue(func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		})
		if !ok {
			e.logger.Warn("after: script queue full")
		}
	}()
	return 0
}

func meshLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}
