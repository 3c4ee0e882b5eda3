package gateway

import "net/http"

// HealthCheckHandler answers liveness probes. It performs no downstream
// checks: the proxy holds no persistent state whose health could be
// meaningfully reported here, so a 200 just confirms the process is serving.
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
