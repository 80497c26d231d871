package web

import (
	"fmt"
	"net/http"
	"strconv"

	"domator-go/internal/mesh"
	"domator-go/internal/store"
)

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", name, r.PathValue(name), store.ErrInvalid)
	}
	return id, nil
}

type topologyView struct {
	Relays      []store.Relay      `json:"relays"`
	Outputs     []store.Output     `json:"outputs"`
	Switches    []store.Switch     `json:"switches"`
	Buttons     []store.Button     `json:"buttons"`
	Connections []store.Connection `json:"connections"`
	Sections    []store.Section    `json:"sections"`
}

func (s *Server) loadTopology() (v topologyView, err error) {
	if v.Relays, err = s.store.AllRelays(); err != nil {
		return v, err
	}
	if v.Outputs, err = s.store.AllOutputs(); err != nil {
		return v, err
	}
	if v.Switches, err = s.store.AllSwitches(); err != nil {
		return v, err
	}
	if v.Buttons, err = s.store.AllButtons(); err != nil {
		return v, err
	}
	if v.Connections, err = s.store.AllConnections(); err != nil {
		return v, err
	}
	v.Sections, err = s.store.AllSections()
	return v, err
}

func (s *Server) handleAPITopology(w http.ResponseWriter, r *http.Request) {
	v, err := s.loadTopology()
	if err != nil {
		s.writeError(w, "load topology", err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAPIPushTopology(w http.ResponseWriter, r *http.Request) {
	if err := s.router.PushTopology(); err != nil {
		s.writeError(w, "push topology", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addDeviceRequest struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"` // outputs for relays, buttons for switches
}

func (s *Server) handleAPIAddRelay(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = 8
	}
	if err := s.router.AddRelay(req.ID, req.Name, req.Count); err != nil {
		s.writeError(w, "add relay", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameRelay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, "rename relay", err)
		return
	}
	var req renameRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.router.RenameRelay(id, req.Name); err != nil {
		s.writeError(w, "rename relay", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": req.Name})
}

func (s *Server) handleAPIRemoveRelay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = s.router.RemoveRelay(id)
	}
	if err != nil {
		s.writeError(w, "remove relay", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type editOutputRequest struct {
	Name      *string `json:"name"`
	SectionID *int    `json:"section_id"`
}

func (s *Server) handleAPIEditOutput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, "edit output", err)
		return
	}
	output := r.PathValue("output")
	var req editOutputRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		if err := s.router.NameOutput(id, output, *req.Name); err != nil {
			s.writeError(w, "name output", err)
			return
		}
	}
	if req.SectionID != nil {
		if err := s.router.ChangeOutputSection(id, output, *req.SectionID); err != nil {
			s.writeError(w, "change output section", err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type outputStateRequest struct {
	State *int `json:"state"`
}

func (s *Server) handleAPISetOutput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, "set output", err)
		return
	}
	var req outputStateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.State == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state is required"})
		return
	}
	if err := s.router.SetOutput(id, r.PathValue("output"), *req.State != 0); err != nil {
		s.writeCommandError(w, "set output", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleAPIToggleOutput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = s.router.ToggleOutput(id, r.PathValue("output"))
	}
	if err != nil {
		s.writeCommandError(w, "toggle output", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// writeCommandError reports encoder rejections as bad requests.
func (s *Server) writeCommandError(w http.ResponseWriter, op string, err error) {
	if mesh.IsTransport(err) {
		s.writeError(w, op, err)
		return
	}
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func (s *Server) handleAPIAddSwitch(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.router.AddSwitch(req.ID, req.Name, req.Count); err != nil {
		s.writeError(w, "add switch", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRenameSwitch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, "rename switch", err)
		return
	}
	var req renameRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.router.RenameSwitch(id, req.Name); err != nil {
		s.writeError(w, "rename switch", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": req.Name})
}

func (s *Server) handleAPIRemoveSwitch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = s.router.RemoveSwitch(id)
	}
	if err != nil {
		s.writeError(w, "remove switch", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type buttonTypeRequest struct {
	Type int `json:"type"`
}

func (s *Server) handleAPISetButtonType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, "set button type", err)
		return
	}
	var req buttonTypeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.router.SetButtonType(id, r.PathValue("button"), req.Type); err != nil {
		s.writeError(w, "set button type", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectionRequest struct {
	SwitchID uint64 `json:"switch_id"`
	ButtonID string `json:"button_id"`
	RelayID  uint64 `json:"relay_id"`
	OutputID string `json:"output_id"`
}

func (c connectionRequest) connection() store.Connection {
	return store.Connection{
		SwitchID: c.SwitchID,
		ButtonID: c.ButtonID,
		Target:   store.Target{RelayID: c.RelayID, OutputID: c.OutputID},
	}
}

func (s *Server) handleAPIAddConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.router.AddConnection(req.connection()); err != nil {
		s.writeError(w, "add connection", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRemoveConnection(w http.ResponseWriter, r *http.Request) {
	sw, err := pathID(r, "sw")
	if err != nil {
		s.writeError(w, "remove connection", err)
		return
	}
	relay, err := pathID(r, "relay")
	if err != nil {
		s.writeError(w, "remove connection", err)
		return
	}
	req := connectionRequest{SwitchID: sw, ButtonID: r.PathValue("button"), RelayID: relay, OutputID: r.PathValue("output")}
	if err := s.router.RemoveConnection(req.connection()); err != nil {
		s.writeError(w, "remove connection", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.store.AllSections()
	if err != nil {
		s.writeError(w, "list sections", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sections)
}

func (s *Server) handleAPIAddSection(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	id, err := s.router.AddSection(req.Name)
	if err != nil {
		s.writeError(w, "add section", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, store.Section{ID: id, Name: req.Name})
}

func (s *Server) handleAPIRemoveSection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid section id"})
		return
	}
	if err := s.router.RemoveSection(id); err != nil {
		s.writeError(w, "remove section", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIStates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.States())
}

func (s *Server) handleAPIOnline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.OnlineStatus())
}

func (s *Server) handleAPILatency(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]float64)
	for id, d := range s.router.Latencies() {
		out[strconv.FormatUint(id, 10)] = float64(d.Microseconds()) / 1000
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.router.Refresh(); err != nil {
		s.writeError(w, "refresh", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleAPIFirmware(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	if s.firmware != nil {
		for k, v := range s.firmware.All() {
			out[string(k)] = v
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

type firmwareRequest struct {
	Version string `json:"version"`
}

func (s *Server) handleAPISetFirmware(w http.ResponseWriter, r *http.Request) {
	if s.firmware == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "firmware catalog not configured"})
		return
	}
	kind, ok := store.ParseKind(r.PathValue("kind"))
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown device kind"})
		return
	}
	var req firmwareRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Version == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "version is required"})
		return
	}
	if err := s.firmware.Set(kind, req.Version); err != nil {
		s.writeError(w, "set firmware version", err)
		return
	}
	s.router.FirmwareChanged()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", string(kind): req.Version})
}

func (s *Server) handleAPIRequestUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := store.ParseKind(r.PathValue("kind"))
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown device kind"})
		return
	}
	id, err := pathID(r, "id")
	if err == nil {
		err = s.router.RequestUpdate(kind, id)
	}
	if err != nil {
		s.writeError(w, "request update", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleAPIRequestUpdateAll(w http.ResponseWriter, r *http.Request) {
	kind, ok := store.ParseKind(r.PathValue("kind"))
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown device kind"})
		return
	}
	if err := s.router.RequestUpdateAll(kind); err != nil {
		s.writeError(w, "request update", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
