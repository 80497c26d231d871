//go:build !no_automation

package automation

import (
	"context"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func newSystemState(t *testing.T, cfg SystemConfig) *lua.LState {
	t.Helper()
	e := NewEngine(newFakeMesh(), nil, testLogger(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	vm := e.newVM(ctx, cancel)
	t.Cleanup(vm.state.Close)
	return vm.state
}

func TestSystemDatetime(t *testing.T) {
	L := newSystemState(t, SystemConfig{})

	for _, comp := range []string{"hour", "minute", "second", "weekday", "day", "month", "year", "timestamp"} {
		L.SetGlobal("_comp", lua.LString(comp))
		if err := L.DoString(`_result = system.datetime(_comp)`); err != nil {
			t.Fatalf("system.datetime(%q): %v", comp, err)
		}
		if got := L.GetGlobal("_result").Type(); got != lua.LTNumber {
			t.Errorf("system.datetime(%q) type = %v, want number", comp, got)
		}
	}
	for _, comp := range []string{"time_str", "date_str"} {
		L.SetGlobal("_comp", lua.LString(comp))
		if err := L.DoString(`_result = system.datetime(_comp)`); err != nil {
			t.Fatalf("system.datetime(%q): %v", comp, err)
		}
		if got := L.GetGlobal("_result").Type(); got != lua.LTString {
			t.Errorf("system.datetime(%q) type = %v, want string", comp, got)
		}
	}
	if err := L.DoString(`system.datetime("fortnight")`); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestHourBetween(t *testing.T) {
	tests := []struct {
		hour, from, to int
		want           bool
	}{
		{10, 8, 22, true},
		{22, 8, 22, false},
		{7, 8, 22, false},
		{23, 22, 6, true},
		{3, 22, 6, true},
		{6, 22, 6, false},
		{12, 22, 6, false},
	}
	for _, tt := range tests {
		if got := hourBetween(tt.hour, tt.from, tt.to); got != tt.want {
			t.Errorf("hourBetween(%d, %d, %d) = %v, want %v", tt.hour, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSystemExec(t *testing.T) {
	tests := []struct {
		name      string
		allowlist []string
		cmd       string
		want      string
	}{
		{"empty allowlist", nil, "/bin/echo hi", ""},
		{"not allowlisted", []string{"/bin/echo"}, "/bin/ls", ""},
		{"relative path", []string{"echo"}, "echo hi", ""},
		{"allowed", []string{"/bin/echo"}, "/bin/echo hello", "hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newSystemState(t, SystemConfig{ExecAllowlist: tt.allowlist, ExecTimeout: 5 * time.Second})
			L.SetGlobal("_cmd", lua.LString(tt.cmd))
			if err := L.DoString(`_result = system.exec(_cmd)`); err != nil {
				t.Fatal(err)
			}
			if got := L.GetGlobal("_result").String(); got != tt.want {
				t.Errorf("exec(%q) = %q, want %q", tt.cmd, got, tt.want)
			}
		})
	}
}
