package mesh

import (
	"domator-go/internal/hub"
	"domator-go/internal/store"
)

// Operator edits. Each successful change is pushed to the root when it
// affects wiring and announced to Topology subscribers.

func (r *Router) topologyChanged(wiring bool) {
	if wiring {
		if err := r.PushTopology(); err != nil {
			r.logger.Warn("push topology after edit", "err", err)
		}
	}
	r.hub.Broadcast(hub.Topology, updateMsg)
	r.events.Emit(Event{Type: EventTopology, Data: map[string]any{"wiring": wiring}})
}

func (r *Router) AddRelay(id uint64, name string, outputCount int) error {
	if err := r.store.AddRelay(id, name, outputCount); err != nil {
		return err
	}
	r.topologyChanged(false)
	return nil
}

// RemoveRelay deletes a relay with its outputs and connections.
func (r *Router) RemoveRelay(id uint64) error {
	if err := r.store.RemoveRelay(id); err != nil {
		return err
	}
	r.cache.ForgetRelay(id)
	r.forgetDevice(id)
	r.topologyChanged(true)
	return nil
}

func (r *Router) AddSwitch(id uint64, name string, buttonCount int) error {
	if err := r.store.AddSwitch(id, name, buttonCount); err != nil {
		return err
	}
	r.topologyChanged(true)
	return nil
}

// RemoveSwitch deletes a switch with its buttons and connections.
func (r *Router) RemoveSwitch(id uint64) error {
	if err := r.store.RemoveSwitch(id); err != nil {
		return err
	}
	r.forgetDevice(id)
	r.topologyChanged(true)
	return nil
}

func (r *Router) forgetDevice(id uint64) {
	r.live.Forget(id)
	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()
}

func (r *Router) RenameRelay(id uint64, name string) error {
	if err := r.store.RenameRelay(id, name); err != nil {
		return err
	}
	r.topologyChanged(false)
	return nil
}

func (r *Router) RenameSwitch(id uint64, name string) error {
	if err := r.store.RenameSwitch(id, name); err != nil {
		return err
	}
	r.topologyChanged(false)
	return nil
}

func (r *Router) NameOutput(relayID uint64, outputID, name string) error {
	if err := r.store.NameOutput(relayID, outputID, name); err != nil {
		return err
	}
	r.topologyChanged(false)
	return nil
}

func (r *Router) ChangeOutputSection(relayID uint64, outputID string, sectionID int) error {
	if err := r.store.ChangeOutputSection(relayID, outputID, sectionID); err != nil {
		return err
	}
	r.topologyChanged(false)
	r.broadcastConfiguration()
	return nil
}

func (r *Router) AddSection(name string) (int, error) {
	id, err := r.store.AddSection(name)
	if err != nil {
		return 0, err
	}
	r.topologyChanged(false)
	r.broadcastConfiguration()
	return id, nil
}

func (r *Router) RemoveSection(id int) error {
	if err := r.store.RemoveSection(id); err != nil {
		return err
	}
	r.topologyChanged(false)
	r.broadcastConfiguration()
	return nil
}

func (r *Router) SetButtonType(switchID uint64, buttonID string, typ int) error {
	if err := r.store.SetButtonType(switchID, buttonID, typ); err != nil {
		return err
	}
	if err := r.PushButtonTypes(); err != nil {
		r.logger.Warn("push button types", "err", err)
	}
	r.topologyChanged(false)
	return nil
}

func (r *Router) AddConnection(c store.Connection) error {
	if err := r.store.AddConnection(c); err != nil {
		return err
	}
	r.topologyChanged(true)
	return nil
}

func (r *Router) RemoveConnection(c store.Connection) error {
	if err := r.store.RemoveConnection(c); err != nil {
		return err
	}
	r.topologyChanged(true)
	return nil
}

// Configuration builds the Lights view of outputs and sections.
func (r *Router) Configuration() (Configuration, error) {
	outputs, err := r.store.AllOutputs()
	if err != nil {
		return Configuration{}, err
	}
	sections, err := r.store.AllSections()
	if err != nil {
		return Configuration{}, err
	}
	cfg := Configuration{Type: "configuration", NamedOutputs: make([]NamedOutput, 0, len(outputs)), Sections: sections}
	for _, o := range outputs {
		cfg.NamedOutputs = append(cfg.NamedOutputs, NamedOutput{
			RelayID: o.RelayID, OutputID: o.OutputID, Name: o.Name, SectionID: o.SectionID,
		})
	}
	return cfg, nil
}

func (r *Router) broadcastConfiguration() {
	cfg, err := r.Configuration()
	if err != nil {
		r.logger.Error("build configuration", "err", err)
		return
	}
	r.hub.Broadcast(hub.Lights, cfg)
}
