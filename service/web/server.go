// Package web exposes a Debugger via an HTTP JSON API.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shirou/gopsutil/process"

	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/wire"
	"github.com/softgpu/gpudbg/service/control"
	"github.com/softgpu/gpudbg/service/debugger"
)

// DefaultWindowCacheSize is the number of rendered register windows kept.
// Every (sm, du, slot) in both display modes fits.
const DefaultWindowCacheSize = 2 * wire.NumSMs * wire.NumDispatchUnits * wire.NumReplicationSlots

// Config provides the configuration to start a Server.
type Config struct {
	// Listener is used to serve HTTP.
	Listener net.Listener
	// Debugger is the session with the simulator.
	Debugger *debugger.Debugger
	// DisplayFloat is the display mode used when a request does not pass
	// the fp parameter.
	DisplayFloat bool
	// WindowCacheSize overrides DefaultWindowCacheSize.
	WindowCacheSize int
}

// Server exposes a Debugger via an HTTP JSON API.
type Server struct {
	// config is all the information necessary to start the server.
	config *Config
	// listener is used to serve HTTP.
	listener net.Listener
	debugger *debugger.Debugger
	router   *mux.Router
	http     *http.Server
	log      logflags.Logger

	// windows caches rendered register windows until the register state
	// changes.
	windows *lru.Cache
}

type windowKey struct {
	sm, du, slot int
	asFloat      bool
}

// NewServer creates a new Server.
func NewServer(config *Config) (*Server, error) {
	size := config.WindowCacheSize
	if size <= 0 {
		size = DefaultWindowCacheSize
	}
	windows, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:   config,
		listener: config.Listener,
		debugger: config.Debugger,
		log:      logflags.WebLogger(),
		windows:  windows,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.getStatus).Methods("GET")
	r.HandleFunc("/api/pause", s.pause).Methods("POST")
	r.HandleFunc("/api/resume", s.resume).Methods("POST")
	r.HandleFunc("/api/step", s.step).Methods("POST")
	r.HandleFunc("/api/startpaused/{value:on|off}", s.setStartPaused).Methods("POST")
	r.HandleFunc("/api/registers/{sm:[0-9]+}", s.listRegisters).Methods("GET")
	r.HandleFunc("/api/window/{sm:[0-9]+}/{du:[0-9]+}/{slot:[0-9]+}", s.getWindow).Methods("GET")
	r.HandleFunc("/api/base/{sm:[0-9]+}", s.listBaseRegisters).Methods("GET")
	r.HandleFunc("/api/resource", s.listResources).Methods("GET")
	if logflags.Web() {
		r.Use(s.logRequests)
	}
	s.router = r
	s.http = &http.Server{Handler: r}
	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until Stop is called.
func (s *Server) Run() error {
	s.log.Infof("web server listening at: %s", s.listener.Addr())
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	return s.http.Close()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("%s %s", r.Method, r.URL)
		next.ServeHTTP(w, r)
	})
}

// writeError writes a simple error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)
	fmt.Fprint(w, message)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	bytes, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(bytes); err != nil {
		s.log.Debugf("writing response: %v", err)
	}
}

func (s *Server) status() *Status {
	st := s.debugger.Status()
	return &Status{
		Connected:   st.Connected,
		State:       st.State.String(),
		StepReady:   st.State == control.Paused,
		ClockCycle:  st.ClockCycle,
		StartPaused: st.StartPaused,
		Session:     st.Session,
		Dirty:       s.debugger.IsRegistersDirty(),
		Telemetry: TelemetryStats{
			Records: st.Telemetry.Records,
			Dropped: st.Telemetry.Dropped,
			Skipped: st.Telemetry.Skipped,
			Faults:  st.Telemetry.Faults,
		},
	}
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.status())
}

// pause records the pause request. The simulator halts at its next check
// in, clients poll the status for step_ready.
func (s *Server) pause(w http.ResponseWriter, _ *http.Request) {
	s.debugger.RequestPause()
	s.writeJSON(w, s.status())
}

func (s *Server) resume(w http.ResponseWriter, _ *http.Request) {
	s.release(w, s.debugger.Resume)
}

func (s *Server) step(w http.ResponseWriter, _ *http.Request) {
	s.release(w, s.debugger.Step)
}

func (s *Server) release(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, control.ErrNotPaused) {
			code = http.StatusConflict
		}
		writeError(w, code, err.Error())
		return
	}
	s.writeJSON(w, s.status())
}

func (s *Server) setStartPaused(w http.ResponseWriter, r *http.Request) {
	s.debugger.SetStartPaused(mux.Vars(r)["value"] == "on")
	s.writeJSON(w, s.status())
}

// displayFloat returns the display mode requested with the fp query
// parameter.
func (s *Server) displayFloat(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("fp")
	if v == "" {
		return s.config.DisplayFloat, nil
	}
	return strconv.ParseBool(v)
}

// intParam parses an integer route variable or query parameter. A missing
// query parameter yields def.
func intParam(r *http.Request, name string, def int) (int, error) {
	v, ok := mux.Vars(r)[name]
	if !ok {
		v = r.URL.Query().Get(name)
	}
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter %q", name, v)
	}
	return n, nil
}

// clearDirty consumes the dirty flag before register values are read. The
// rendered windows are dropped when the registers changed.
func (s *Server) clearDirty() {
	if s.debugger.ClearDirty() {
		s.windows.Purge()
	}
}

func (s *Server) listRegisters(w http.ResponseWriter, r *http.Request) {
	sm, err := intParam(r, "sm", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := intParam(r, "start", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := intParam(r, "count", wire.NumRegisters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asFloat, err := s.displayFloat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fp parameter")
		return
	}

	s.clearDirty()
	regs := make([]uint32, wire.NumRegisters)
	if err := s.debugger.Registers(sm, regs); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if start < 0 || start > len(regs) || count < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid range start=%d count=%d", start, count))
		return
	}
	end := len(regs)
	if start+count < end {
		end = start + count
	}
	rf := &RegisterFile{SM: sm, Start: start, Total: len(regs), Registers: make([]Register, 0, end-start)}
	for i := start; i < end; i++ {
		c, _ := s.debugger.GetContention(sm, i)
		rf.Registers = append(rf.Registers, Register{
			Index:      i,
			Raw:        regs[i],
			Value:      gpustate.FormatRegister(regs[i], asFloat),
			Contention: c,
		})
	}
	s.writeJSON(w, rf)
}

func (s *Server) getWindow(w http.ResponseWriter, r *http.Request) {
	var key windowKey
	var err error
	for _, p := range []struct {
		name string
		dst  *int
	}{{"sm", &key.sm}, {"du", &key.du}, {"slot", &key.slot}} {
		if *p.dst, err = intParam(r, p.name, 0); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if key.asFloat, err = s.displayFloat(r); err != nil {
		writeError(w, http.StatusBadRequest, "invalid fp parameter")
		return
	}

	s.clearDirty()
	if v, ok := s.windows.Get(key); ok {
		s.writeJSON(w, v)
		return
	}
	win, err := s.debugger.RegisterWindow(key.sm, key.du, key.slot)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rendered := &Window{
		SM:           win.SM,
		DispatchUnit: win.DispatchUnit,
		Slot:         win.Slot,
		Base:         win.Base,
		Registers:    make([]Register, len(win.Entries)),
	}
	for i, e := range win.Entries {
		rendered.Registers[i] = Register{
			Index:      e.Index,
			Raw:        e.Value,
			Value:      gpustate.FormatRegister(e.Value, key.asFloat),
			Contention: e.Contention,
		}
	}
	s.windows.Add(key, rendered)
	s.writeJSON(w, rendered)
}

func (s *Server) listBaseRegisters(w http.ResponseWriter, r *http.Request) {
	sm, err := intParam(r, "sm", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	br := &BaseRegisters{SM: sm, Bases: make([][]uint32, wire.NumDispatchUnits)}
	for du := range br.Bases {
		br.Bases[du] = make([]uint32, wire.NumReplicationSlots)
		for slot := range br.Bases[du] {
			if br.Bases[du][slot], err = s.debugger.GetBaseRegister(sm, du, slot); err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
		}
	}
	s.writeJSON(w, br)
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	memoryInfo, err := p.MemoryInfo()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, &Resource{CPUPercent: cpuPercent, MemorySize: memoryInfo.RSS})
}
