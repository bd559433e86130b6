package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/types"
)

type createMachineRequest struct {
	Name   string              `json:"name,omitempty"`
	Region string              `json:"region,omitempty"`
	Config types.MachineConfig `json:"config"`
}

type updateMachineRequest struct {
	Config types.MachineConfig `json:"config"`
}

type leaseRequest struct {
	TTL         int    `json:"ttl,omitempty"` // seconds
	Description string `json:"description,omitempty"`
}

type leaseResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

type machineResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	AppName     string              `json:"app"`
	State       string              `json:"state"`
	Region      string              `json:"region"`
	ImageRef    string              `json:"image_ref"`
	PrivateIP   string              `json:"private_ip,omitempty"`
	Config      types.MachineConfig `json:"config"`
	Generation  int                 `json:"instance_id"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func toMachineResponse(m *types.Machine) machineResponse {
	return machineResponse{
		ID:         m.ID,
		Name:       m.Name,
		AppName:    m.AppName,
		State:      string(m.State),
		Region:     m.Region,
		ImageRef:   m.ImageRef,
		PrivateIP:  m.PrivateIP,
		Config:     m.Config,
		Generation: m.Generation,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// leaseNonce returns the Fly-Machine-Lease-Nonce header value, the
// convention the production API uses to carry the lease token on
// mutating requests.
func leaseNonce(r *http.Request) string {
	return r.Header.Get("Fly-Machine-Lease-Nonce")
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	machines, err := s.manager.ListMachinesByApp(ps.ByName("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]machineResponse, 0, len(machines))
	for _, m := range machines {
		out = append(out, toMachineResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appName := ps.ByName("app")
	var req createMachineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Config.Image == "" {
		writeError(w, apierr.Invalidf("config.image is required"))
		return
	}

	mach, err := s.manager.CreateMachine(appName, req.Name, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMachineResponse(mach))
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	mach, err := s.manager.GetMachine(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMachineResponse(mach))
}

func (s *Server) handleUpdateMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req updateMachineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mach, err := s.manager.UpdateMachine(r.Context(), ps.ByName("id"), leaseNonce(r), req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMachineResponse(mach))
}

func (s *Server) handleDestroyMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	force := r.URL.Query().Get("force") == "true"
	if err := s.manager.DestroyMachine(ps.ByName("id"), leaseNonce(r), force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.manager.Start(r.Context(), ps.ByName("id"), leaseNonce(r)); err != nil {
		writeError(w, err)
		return
	}
	mach, err := s.manager.GetMachine(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMachineResponse(mach))
}

func (s *Server) handleStopMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	grace := machine.DefaultStopTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			grace = time.Duration(secs) * time.Second
		}
	}
	if err := s.manager.Stop(r.Context(), ps.ByName("id"), leaseNonce(r), grace); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRestartMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.manager.Restart(r.Context(), ps.ByName("id"), leaseNonce(r), machine.DefaultStopTimeout); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLeaseMachine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req leaseRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	ttl := machine.DefaultLeaseTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}
	lease, err := s.manager.Acquire(ps.ByName("id"), "api-client", req.Description, ttl, leaseNonce(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaseResponse{Nonce: lease.Nonce, ExpiresAt: lease.ExpiresAt})
}
