//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"domator-go/internal/mesh"
)

var ErrScriptNotFound = errors.New("script not found")

type Mesh interface {
	Events() *mesh.EventBus
	SetOutput(relayID uint64, outputID string, on bool) error
	ToggleOutput(relayID uint64, outputID string) error
	OutputState(relayID uint64, outputID string) (on, known bool)
	MoveBlind(blind string, position int) error
}

type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

type SystemConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
}

// Manager is a no-op when automation is compiled out.
type Manager struct{}

func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return &Manager{}, nil }

func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(id string) (*Script, error)  { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error           { return nil }

// Engine is a no-op when automation is compiled out.
type Engine struct{}

func NewEngine(_ Mesh, _ *Manager, _ *slog.Logger, _ SystemConfig) *Engine { return &Engine{} }

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string)         {}
func (e *Engine) Running() []string           { return nil }

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{Error: "automation disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{Error: "automation disabled"}
}
