// Package naming gives newly seen mesh devices a durable name.
package naming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"domator-go/internal/store"
)

// Registry is the part of the topology store the assigner needs.
type Registry interface {
	Relay(id uint64) (*store.Relay, error)
	Switch(id uint64) (*store.Switch, error)
	AddRelay(id uint64, name string, outputCount int) error
	AddSwitch(id uint64, name string, buttonCount int) error
}

// RootName is the fixed name of the root gateway.
const RootName = "root"

// Defaults applied to auto-registered devices.
const (
	DefaultButtons = 3
	DefaultOutputs = 8
)

// Category returns the name category used for a device kind.
func Category(kind store.Kind) string {
	if kind == store.KindRelay {
		return "animals"
	}
	return "astronomy"
}

type result struct {
	name    string
	created bool
	claimed atomic.Bool
}

// Assigner names each unseen device at most once, even when several
// status reports for it race.
type Assigner struct {
	reg    Registry
	gen    Generator
	group  singleflight.Group
	logger *slog.Logger
}

func NewAssigner(reg Registry, gen Generator, logger *slog.Logger) *Assigner {
	return &Assigner{reg: reg, gen: gen, logger: logger.With("component", "naming")}
}

// AssignIfAbsent returns the stored name of id, generating and persisting
// one first if the device is new. created is true for exactly one caller
// per newly named device.
func (a *Assigner) AssignIfAbsent(ctx context.Context, id uint64, kind store.Kind) (name string, created bool, err error) {
	if kind == store.KindRoot {
		return RootName, false, nil
	}
	v, err, _ := a.group.Do(strconv.FormatUint(id, 10), func() (any, error) {
		return a.assign(ctx, id, kind)
	})
	if err != nil {
		return "", false, err
	}
	res := v.(*result)
	return res.name, res.created && res.claimed.CompareAndSwap(false, true), nil
}

func (a *Assigner) assign(ctx context.Context, id uint64, kind store.Kind) (*result, error) {
	if name, ok, err := a.lookup(id, kind); err != nil {
		return nil, err
	} else if ok {
		return &result{name: name}, nil
	}

	category := Category(kind)
	name, err := a.gen.Generate(ctx, category)
	if err != nil || name == "" {
		name = fmt.Sprintf("%s-%d", category, id)
		a.logger.Warn("name generator failed, using placeholder", "device", id, "name", name, "err", err)
	}

	if kind == store.KindRelay {
		err = a.reg.AddRelay(id, name, DefaultOutputs)
	} else {
		err = a.reg.AddSwitch(id, name, DefaultButtons)
	}
	if err != nil {
		return nil, fmt.Errorf("register %s %d: %w", kind, id, err)
	}
	a.logger.Info("new device named", "device", id, "kind", kind, "name", name)
	return &result{name: name, created: true}, nil
}

func (a *Assigner) lookup(id uint64, kind store.Kind) (string, bool, error) {
	var (
		name string
		err  error
	)
	if kind == store.KindRelay {
		var r *store.Relay
		if r, err = a.reg.Relay(id); err == nil {
			name = r.Name
		}
	} else {
		var s *store.Switch
		if s, err = a.reg.Switch(id); err == nil {
			name = s.Name
		}
	}
	switch {
	case err == nil:
		return name, true, nil
	case errors.Is(err, store.ErrNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("lookup %s %d: %w", kind, id, err)
	}
}
