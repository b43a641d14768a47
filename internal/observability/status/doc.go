// Package status serves the operator HTTP endpoint: /healthz for liveness,
// /status with a JSON snapshot of the running bot and, when enabled, the
// net/http/pprof handlers under /debug/pprof/.
package status
