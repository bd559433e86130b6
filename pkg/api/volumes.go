package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/types"
)

type createVolumeRequest struct {
	Name   string `json:"name"`
	SizeGB int    `json:"size_gb"`
}

type volumeResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AppName   string    `json:"app"`
	SizeGB    int       `json:"size_gb"`
	MachineID string    `json:"attached_machine_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toVolumeResponse(v *types.Volume) volumeResponse {
	return volumeResponse{ID: v.ID, Name: v.Name, AppName: v.AppName, SizeGB: v.SizeGB, MachineID: v.MachineID, CreatedAt: v.CreatedAt}
}

func newVolumeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Internalf(err, "failed to allocate volume id")
	}
	return "vol_" + hex.EncodeToString(buf), nil
}

func (s *Server) handleListVolumes(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	volumes, err := s.store.ListVolumesByApp(ps.ByName("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]volumeResponse, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, toVolumeResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appName := ps.ByName("app")
	var req createVolumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apierr.Invalidf("name is required"))
		return
	}

	if _, err := s.store.GetApp(appName); err != nil {
		writeError(w, err)
		return
	}
	if existing, err := s.store.GetVolumeByName(appName, req.Name); err == nil && existing != nil {
		writeError(w, apierr.Conflictf("volume %q already exists in app %q", req.Name, appName))
		return
	}

	id, err := newVolumeID()
	if err != nil {
		writeError(w, err)
		return
	}
	vol := &types.Volume{
		ID:        id,
		AppName:   appName,
		Name:      req.Name,
		SizeGB:    req.SizeGB,
		CreatedAt: time.Now(),
	}
	// The host directory only exists once the volume is mounted onto a
	// machine (pkg/machine.materializeMounts), since its path is rooted
	// under that machine's id.

	if err := s.store.CreateVolume(vol); err != nil {
		writeError(w, err)
		return
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventVolumeCreated, AppName: appName, Message: vol.Name})
	}
	writeJSON(w, http.StatusCreated, toVolumeResponse(vol))
}

func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	vol, err := s.store.GetVolumeByName(ps.ByName("app"), ps.ByName("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVolumeResponse(vol))
}

func (s *Server) handleDeleteVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appName, name := ps.ByName("app"), ps.ByName("name")
	vol, err := s.store.GetVolumeByName(appName, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if vol.MachineID != "" {
		writeError(w, apierr.Conflictf("volume %q is attached to machine %q", name, vol.MachineID))
		return
	}
	if s.volumes != nil {
		if err := s.volumes.Delete(vol); err != nil {
			writeError(w, apierr.Internalf(err, "failed to delete volume directory"))
			return
		}
	}
	if err := s.store.DeleteVolume(vol.ID); err != nil {
		writeError(w, err)
		return
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventVolumeDeleted, AppName: appName, Message: name})
	}
	w.WriteHeader(http.StatusNoContent)
}
