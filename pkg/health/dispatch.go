package health

import (
	"fmt"

	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/types"
)

// FromCheck builds the Checker a machine's declared health check
// dispatches to, keyed on types.Check.Type ("tcp", "http" or "exec").
// Ports and paths are resolved against 127.0.0.1: machines run with host
// networking under the embedded runtime, so a container's declared port
// is reachable on the loopback interface rather than a private network
// address the way it would be against a real container network.
func FromCheck(check types.Check, containerID string, rt runtime.Runtime) (Checker, error) {
	switch check.Type {
	case string(CheckTypeTCP):
		checker := NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", check.Port))
		if check.Timeout > 0 {
			checker.WithTimeout(check.Timeout)
		}
		return checker, nil

	case string(CheckTypeHTTP):
		path := check.Path
		if path == "" {
			path = "/"
		}
		checker := NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%d%s", check.Port, path)).WithStatusRange(200, 299)
		if check.Method != "" {
			checker.WithMethod(check.Method)
		}
		if check.Timeout > 0 {
			checker.WithTimeout(check.Timeout)
		}
		return checker, nil

	case string(CheckTypeExec):
		if len(check.Command) == 0 {
			return nil, fmt.Errorf("exec check has no command")
		}
		checker := NewExecChecker(check.Command).WithContainer(containerID, rt)
		if check.Timeout > 0 {
			checker.WithTimeout(check.Timeout)
		}
		return checker, nil

	default:
		return nil, fmt.Errorf("unknown health check type %q", check.Type)
	}
}
