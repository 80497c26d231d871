//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// SystemConfig controls the system Lua module.
type SystemConfig struct {
	ExecAllowlist []string // absolute paths scripts may run
	ExecTimeout   time.Duration
}

const maxExecOutput = 64 << 10

// registerSystemModule installs the `system` global.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"datetime":     systemDatetime,
		"time_between": systemTimeBetween,
		"log":          func(L *lua.LState) int { return systemLog(L, vm, e) },
		"exec":         func(L *lua.LState) int { return systemExec(L, e) },
	})
	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState) int {
	now := time.Now()
	switch c := L.CheckString(1); c {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format(time.TimeOnly)))
	case "date_str":
		L.Push(lua.LString(now.Format(time.DateOnly)))
	default:
		L.ArgError(1, "unknown component: "+c)
		return 0
	}
	return 1
}

// system.time_between(from_hour, to_hour); ranges may wrap midnight.
func systemTimeBetween(L *lua.LState) int {
	L.Push(lua.LBool(hourBetween(time.Now().Hour(), L.CheckInt(1), L.CheckInt(2))))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

// system.log(level, msg)
func systemLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	if vm.logf != nil {
		vm.logf("[" + level + "] " + msg)
	}
	switch level {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
	return 0
}

// system.exec(cmd) runs an allowlisted binary and returns its stdout, or
// "" when blocked or failed.
func systemExec(L *lua.LState, e *Engine) int {
	parts := strings.Fields(L.CheckString(1))
	if len(parts) == 0 {
		L.ArgError(1, "empty command")
		return 0
	}
	bin := parts[0]
	if !filepath.IsAbs(bin) || !slices.Contains(e.systemCfg.ExecAllowlist, bin) {
		e.logger.Warn("exec blocked", "cmd", bin)
		L.Push(lua.LString(""))
		return 1
	}

	timeout := e.systemCfg.ExecTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, parts[1:]...).Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("exec timeout", "cmd", bin, "timeout", timeout)
		} else {
			e.logger.Warn("exec failed", "cmd", bin, "err", err)
		}
		L.Push(lua.LString(""))
		return 1
	}
	if len(out) > maxExecOutput {
		out = out[:maxExecOutput]
	}
	L.Push(lua.LString(out))
	return 1
}
