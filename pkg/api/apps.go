package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/types"
)

type createAppRequest struct {
	Name         string `json:"app_name"`
	Organization string `json:"org_slug,omitempty"`
}

type appResponse struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Status       string `json:"status"`
}

func toAppResponse(app *types.App) appResponse {
	return appResponse{Name: app.Name, Organization: app.Organization, Status: string(app.Status)}
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	apps, err := s.store.ListApps()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]appResponse, 0, len(apps))
	for _, a := range apps {
		out = append(out, toAppResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createAppRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apierr.Invalidf("app_name is required"))
		return
	}

	now := time.Now()
	app := &types.App{
		Name:         req.Name,
		Organization: req.Organization,
		Status:       types.AppStatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateApp(app); err != nil {
		writeError(w, err)
		return
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventAppCreated, AppName: app.Name})
	}
	writeJSON(w, http.StatusCreated, toAppResponse(app))
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	app, err := s.store.GetApp(ps.ByName("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppResponse(app))
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appName := ps.ByName("app")
	machines, err := s.store.ListMachinesByApp(appName)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, m := range machines {
		if m.State.NonTerminal() {
			writeError(w, apierr.Conflictf("app %q still has non-destroyed machines", appName))
			return
		}
	}
	if err := s.store.DeleteApp(appName); err != nil {
		writeError(w, err)
		return
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventAppDeleted, AppName: appName})
	}
	w.WriteHeader(http.StatusNoContent)
}
