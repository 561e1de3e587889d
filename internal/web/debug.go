package web

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"tailscale.com/tsweb"
)

// attachDebug mounts operator pages under /debug/. tsweb only serves them
// to loopback and tailnet clients.
func (s *server) attachDebug(mux *http.ServeMux) {
	dbg := tsweb.Debugger(mux)

	dbg.HandleFunc("build", "module version and VCS stamp", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, readBuildInfo())
	})

	dbg.HandleFunc("subscribers", "live stream subscribers and their backlog", func(w http.ResponseWriter, r *http.Request) {
		if s.hub == nil {
			http.Error(w, "hub unavailable", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, s.hub.Subscribers())
	})

	dbg.HandleFunc("anomaly", "latest anomaly score", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if s.anomaly == nil {
			fmt.Fprintln(w, "anomaly cell unavailable")
			return
		}
		score, ok := s.anomaly.Load()
		if !ok {
			fmt.Fprintln(w, "no score received")
			return
		}
		fmt.Fprintf(w, "score=%.4f updated=%s\n", score, s.anomaly.UpdatedAt().UTC().Format(time.RFC3339Nano))
	})

	// Clears the anomaly score so estimates stop carrying a stale one.
	dbg.HandleSilentFunc("anomaly-clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.anomaly != nil {
			s.anomaly.Clear()
		}
		fmt.Fprintln(w, "cleared")
	})
}

type buildInfo struct {
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

func readBuildInfo() buildInfo {
	out := buildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}
