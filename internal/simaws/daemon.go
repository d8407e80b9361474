package simaws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
)

// Daemon simulates the subset of the Docker Engine API the publisher
// calls: ping, build, tag, and push.
type Daemon struct {
	mu sync.Mutex

	httpSrv *httptest.Server

	// BuiltTags collects the tag sets of each build request.
	BuiltTags [][]string
	// Tagged collects "source -> target" retag operations.
	Tagged []string
	// Pushed collects pushed references.
	Pushed []string
	// PushAuth collects the X-Registry-Auth header of each push.
	PushAuth []string

	// FailBuild and FailPush inject in-stream errors.
	FailBuild bool
	FailPush  bool
}

var apiPrefix = regexp.MustCompile(`^/v[0-9.]+/`)

// NewDaemon starts the fake daemon.
func NewDaemon() *Daemon {
	d := &Daemon{}
	d.httpSrv = httptest.NewServer(http.HandlerFunc(d.route))
	return d
}

// Host is the address for the Docker client's host option.
func (d *Daemon) Host() string {
	return "tcp://" + strings.TrimPrefix(d.httpSrv.URL, "http://")
}

// Close shuts the fake daemon down.
func (d *Daemon) Close() { d.httpSrv.Close() }

func (d *Daemon) route(w http.ResponseWriter, r *http.Request) {
	path := apiPrefix.ReplaceAllString(r.URL.Path, "/")

	switch {
	case path == "/_ping":
		w.Header().Set("Api-Version", "1.47")
		w.Header().Set("Ostype", "linux")
		w.WriteHeader(http.StatusOK)
	case path == "/build" && r.Method == http.MethodPost:
		d.handleBuild(w, r)
	case strings.HasSuffix(path, "/tag") && r.Method == http.MethodPost:
		d.handleTag(w, r, path)
	case strings.HasSuffix(path, "/push") && r.Method == http.MethodPost:
		d.handlePush(w, r, path)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (d *Daemon) handleBuild(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.BuiltTags = append(d.BuiltTags, r.URL.Query()["t"])
	fail := d.FailBuild
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if fail {
		enc.Encode(map[string]any{
			"errorDetail": map[string]any{"message": "build failed"},
			"error":       "build failed",
		})
		return
	}
	enc.Encode(map[string]any{"stream": "Successfully built 0123456789ab\n"})
}

func (d *Daemon) handleTag(w http.ResponseWriter, r *http.Request, path string) {
	source := strings.TrimSuffix(strings.TrimPrefix(path, "/images/"), "/tag")
	target := r.URL.Query().Get("repo") + ":" + r.URL.Query().Get("tag")

	d.mu.Lock()
	d.Tagged = append(d.Tagged, source+" -> "+target)
	d.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (d *Daemon) handlePush(w http.ResponseWriter, r *http.Request, path string) {
	name := strings.TrimSuffix(strings.TrimPrefix(path, "/images/"), "/push")
	ref := name + ":" + r.URL.Query().Get("tag")

	d.mu.Lock()
	d.Pushed = append(d.Pushed, ref)
	d.PushAuth = append(d.PushAuth, r.Header.Get("X-Registry-Auth"))
	fail := d.FailPush
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if fail {
		enc.Encode(map[string]any{
			"errorDetail": map[string]any{"message": "denied: push rejected"},
			"error":       "denied: push rejected",
		})
		return
	}
	enc.Encode(map[string]any{"status": "Pushed"})
}
