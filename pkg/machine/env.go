package machine

import (
	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/types"
)

// localObjectStoreEndpoint is where a Tigris- or S3-compatible object
// store would need to run locally for a manifest's storage credentials to
// resolve against something reachable, mirroring the fixed local port the
// rest of this package's identity variables assume.
const localObjectStoreEndpoint = "http://localhost:9000"

// resolveEnv computes the effective environment for a machine start, as
// the ordered merge (lowest to highest precedence) of manifest env,
// platform-injected identity variables, and app secrets (§4.6 step 1).
func (m *Manager) resolveEnv(mach *types.Machine) (map[string]string, error) {
	env := map[string]string{}
	for k, v := range mach.Config.Env {
		env[k] = v
	}

	if mach.PrivateIP == "" {
		mach.PrivateIP = dns.DeriveVIP(m.NetworkPrefix, mach.ID).String()
	}

	env["FLY_APP_NAME"] = mach.AppName
	env["FLY_MACHINE_ID"] = mach.ID
	env["FLY_REGION"] = "local"
	env["FLY_PUBLIC_IP"] = "127.0.0.1"
	env["FLY_PRIVATE_IP"] = mach.PrivateIP
	env["PRIMARY_REGION"] = "local"
	env["FLY_CONSUL_URL"] = "http://localhost:8500"

	// A manifest env declaring Tigris/S3 credentials expects them to point
	// at the object store the app actually talks to in production; locally
	// there is none, so declared endpoints are redirected at the stand-in
	// endpoint instead of the far-away URL baked into the image.
	// TIGRIS_ENDPOINT redirects all three keys; AWS_ENDPOINT_URL without
	// TIGRIS_ENDPOINT redirects itself and AWS_ENDPOINT_URL_S3; a lone
	// AWS_ENDPOINT_URL_S3 is left as declared.
	if _, ok := env["TIGRIS_ENDPOINT"]; ok {
		env["TIGRIS_ENDPOINT"] = localObjectStoreEndpoint
		env["AWS_ENDPOINT_URL"] = localObjectStoreEndpoint
		env["AWS_ENDPOINT_URL_S3"] = localObjectStoreEndpoint
	} else if _, ok := env["AWS_ENDPOINT_URL"]; ok {
		env["AWS_ENDPOINT_URL"] = localObjectStoreEndpoint
		env["AWS_ENDPOINT_URL_S3"] = localObjectStoreEndpoint
	}

	if m.Secrets != nil {
		secretsMap, err := m.Secrets.Load(mach.AppName)
		if err != nil {
			return nil, err
		}
		for k, v := range secretsMap {
			env[k] = v
		}
	}

	return env, nil
}
