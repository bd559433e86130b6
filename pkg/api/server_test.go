package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/secrets"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
	"github.com/minifly/minifly/pkg/volume"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, authToken string) (*Server, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rt := runtime.NewMockRuntime()
	registry := dns.NewRegistry("fdaa:0:")
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	secretsStore := secrets.NewStore(t.TempDir())
	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)

	mgr := machine.New(store, rt, registry, broker, secretsStore, volumes, t.TempDir(), "", "")

	s := NewServer(store, mgr, rt, registry, broker, volumes, Config{Addr: "127.0.0.1:0", AuthToken: authToken})
	return s, store
}

func doRequest(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLiveEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/ready", nil, nil)
	require.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, rec.Code)
}

func TestCreateAndGetApp(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/v1/apps", createAppRequest{Name: "myapp"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/apps/myapp", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got appResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "myapp", got.Name)
}

func TestGetAppNotFound(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/v1/apps/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, http.StatusNotFound, body.Status)
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	s, _ := newTestServer(t, "secret-token")

	rec := doRequest(t, s, http.MethodGet, "/v1/apps", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/apps", nil, map[string]string{"Authorization": "Bearer secret-token"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMachineLifecycleThroughAPI(t *testing.T) {
	s, store := newTestServer(t, "")

	require.NoError(t, store.CreateApp(&types.App{Name: "app1", Status: types.AppStatusCreated}))

	rec := doRequest(t, s, http.MethodPost, "/v1/apps/app1/machines", createMachineRequest{
		Name:   "web",
		Config: types.MachineConfig{Image: "alpine"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var mach machineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mach))
	require.Equal(t, "created", mach.State)

	rec = doRequest(t, s, http.MethodPost, "/v1/apps/app1/machines/"+mach.ID+"/lease", leaseRequest{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lease leaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lease))
	require.NotEmpty(t, lease.Nonce)

	rec = doRequest(t, s, http.MethodPost, "/v1/apps/app1/machines/"+mach.ID+"/start", nil, map[string]string{
		"Fly-Machine-Lease-Nonce": lease.Nonce,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/apps/app1/machines/"+mach.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mach))
	require.Equal(t, "started", mach.State)

	rec = doRequest(t, s, http.MethodPost, "/v1/apps/app1/machines/"+mach.ID+"/stop", nil, map[string]string{
		"Fly-Machine-Lease-Nonce": lease.Nonce,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMachineRequiresImage(t *testing.T) {
	s, store := newTestServer(t, "")
	require.NoError(t, store.CreateApp(&types.App{Name: "app1", Status: types.AppStatusCreated}))

	rec := doRequest(t, s, http.MethodPost, "/v1/apps/app1/machines", createMachineRequest{Name: "web"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestVolumeCRUDThroughAPI(t *testing.T) {
	s, store := newTestServer(t, "")
	require.NoError(t, store.CreateApp(&types.App{Name: "app1", Status: types.AppStatusCreated}))

	rec := doRequest(t, s, http.MethodPost, "/v1/apps/app1/volumes", createVolumeRequest{Name: "data", SizeGB: 1}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/apps/app1/volumes/data", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/v1/apps/app1/volumes/data", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/apps/app1/volumes/data", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
