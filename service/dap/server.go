// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows editors to pause, step and inspect the simulator without a
// separate adaptor. The frontend connects to gpudbg running in dap mode,
// listening on a port and communicating over TCP. Requests are handled
// synchronously, one at a time, while stopped events are sent as soon as
// the simulator halts.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"

	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/wire"
	"github.com/softgpu/gpudbg/service/control"
	"github.com/softgpu/gpudbg/service/debugger"
)

// threadID is the id of the only thread reported to the client. The
// simulator is stopped and resumed as a whole.
const threadID = 1

// Config is all the information necessary to start the server.
type Config struct {
	// Listener is used to accept the client connection. The server takes
	// ownership of it.
	Listener net.Listener
	// DisconnectChan is closed by the server when the client disconnects
	// or the connection fails. Once it is closed, Server.Stop() must be
	// called.
	DisconnectChan chan struct{}
	// Debugger is the session with the simulator.
	Debugger *debugger.Debugger
	// DisplayFloat is the initial register display mode, the client can
	// override it in the attach request.
	DisplayFloat bool
}

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via three goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, issuing commands to the
// debugger and sending back responses.
// (3) State goroutine that sends a stopped event every time the simulator
// halts.
type Server struct {
	config *Config
	// listener is used to accept the client connection.
	listener net.Listener
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// debugger is the underlying debugger service.
	debugger *debugger.Debugger
	log      logflags.Logger

	connMu sync.Mutex
	// conn is the accepted client connection.
	conn net.Conn

	// sendMu serializes writes from the run and state goroutines.
	sendMu sync.Mutex

	disconnectOnce sync.Once

	// configured is set by configurationDone, stopped events are held
	// back until then.
	configured atomic.Bool
	// stopReason is the reason reported by the next stopped event.
	stopReason atomic.Value

	// The fields below are only accessed by the run goroutine.

	// frameHandles maps the single stack frame to the clock cycle it shows.
	frameHandles *handlesMap[uint32]
	// variableHandles maps register containers to references.
	variableHandles *handlesMap[container]
	// args tracks special settings for handling debug session requests.
	args AttachConfig
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown.
func NewServer(config *Config) *Server {
	logger := logflags.DAPLogger()
	logger.Infof("DAP server listening at: %s", config.Listener.Addr())
	s := &Server{
		config:          config,
		listener:        config.Listener,
		stopChan:        make(chan struct{}),
		debugger:        config.Debugger,
		log:             logger,
		frameHandles:    newHandlesMap[uint32](),
		variableHandles: newHandlesMap[container](),
		args:            AttachConfig{DisplayFloat: config.DisplayFloat},
	}
	s.stopReason.Store("pause")
	return s
}

// Stop stops the DAP server, closes the listener and the client
// connection. The simulator is left as it is, the caller owns the
// debugger. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	s.connMu.Lock()
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	s.connMu.Unlock()
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server services only one client, this
// can be used as a signal to the entire server via Stop().
func (s *Server) signalDisconnect() {
	s.disconnectOnce.Do(func() {
		if s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
		}
	})
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s", err)
			}
			s.signalDisconnect()
			return
		}
		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.serveDAPCodec(conn)
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec(conn net.Conn) {
	defer s.signalDisconnect()

	states, cancel := s.debugger.Subscribe()
	done := make(chan struct{})
	defer func() {
		cancel()
		close(done)
	}()
	go s.watchState(states, done)

	reader := bufio.NewReader(conn)
	for {
		request, err := dap.ReadProtocolMessage(reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		if s.handleRequest(request) {
			return
		}
	}
}

// watchState sends a stopped event every time the simulator halts.
func (s *Server) watchState(states <-chan control.SteppingState, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case st := <-states:
			if st == control.Paused && s.configured.Load() {
				s.sendStopped()
			}
		}
	}
}

// handleRequest dispatches one request. It returns true once the session
// is over.
func (s *Server) handleRequest(request dap.Message) (disconnect bool) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(request)
		s.log.Debug("[<- from client]", string(jsonmsg))
	}

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
		return true
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.PauseRequest:
		s.onPauseRequest(request)
	case *dap.ContinueRequest:
		s.onContinueRequest(request)
	case *dap.NextRequest:
		if s.step(request.Request) {
			s.send(&dap.NextResponse{Response: *newResponse(request.Request)})
		}
	case *dap.StepInRequest:
		if s.step(request.Request) {
			s.send(&dap.StepInResponse{Response: *newResponse(request.Request)})
		}
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		s.onVariablesRequest(request)
	case *dap.EvaluateRequest:
		s.onEvaluateRequest(request)
	case *dap.TerminateRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.RestartRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetFunctionBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepOutRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepBackRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReverseContinueRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetVariableRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SourceRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.CompletionsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v", request))
	}
	return false
}

func (s *Server) send(message dap.Message) {
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(message)
		s.log.Debug("[-> to client]", string(jsonmsg))
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := dap.WriteProtocolMessage(conn, message); err != nil {
		s.log.Debugf("writing to client: %v", err)
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsEvaluateForHovers = true
	s.send(response)
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	if s.attach(request.Request, request.Arguments) {
		s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
		s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
		s.announceEndpoints()
	}
}

func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	if s.attach(request.Request, request.Arguments) {
		s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
		s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
		s.announceEndpoints()
	}
}

// attach applies the launch/attach arguments. The simulator is started by
// the user and connects to gpudbg on its own, so there is nothing to start.
func (s *Server) attach(request dap.Request, raw json.RawMessage) bool {
	args := s.args
	if err := unmarshalAttachArgs(raw, &args); err != nil {
		s.sendErrorResponse(request, FailedToAttach, "Failed to attach", err.Error())
		return false
	}
	s.args = args
	if args.StopOnEntry {
		s.stopReason.Store("entry")
		s.debugger.RequestPause()
	}
	return true
}

// announceEndpoints tells the user where to point the simulator if it is
// not connected yet.
func (s *Server) announceEndpoints() {
	if s.debugger.IsReady() {
		return
	}
	ctl, tel := s.debugger.Endpoints()
	s.sendOutput("console", fmt.Sprintf("Waiting for the simulator on %s and %s\n", ctl, tel))
}

// onDisconnectRequest handles the 'disconnect' request. A simulator
// waiting for a step is resumed so that it is not left halted without a
// client to release it.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	if s.debugger.IsStepReady() {
		if err := s.debugger.Resume(); err != nil {
			s.log.Errorf("resuming simulator on disconnect: %v", err)
		}
	}
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
}

// onSetBreakpointsRequest reports every breakpoint as unverified. The
// simulator has no source to break on, but editors send this request
// unconditionally during configuration.
func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i].Line = b.Line
		response.Body.Breakpoints[i].Message = "breakpoints are not supported"
	}
	s.send(response)
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	s.configured.Store(true)
	if s.debugger.IsStepReady() {
		s.sendStopped()
	}
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: threadID, Name: "gpu"}}},
	}
	s.send(response)
}

// onPauseRequest records the pause. The stopped event follows once the
// simulator checks in and halts.
func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	s.stopReason.Store("pause")
	s.debugger.RequestPause()
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	if err := s.debugger.Resume(); err != nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", err.Error())
		return
	}
	s.clearStateHandles()
	response := &dap.ContinueResponse{Response: *newResponse(request.Request)}
	response.Body.AllThreadsContinued = true
	s.send(response)
}

// step executes one cycle. It returns false if an error response was sent.
func (s *Server) step(request dap.Request) bool {
	s.stopReason.Store("step")
	if err := s.debugger.Step(); err != nil {
		s.stopReason.Store("pause")
		s.sendErrorResponse(request, UnableToStep, "Unable to step", err.Error())
		return false
	}
	s.clearStateHandles()
	return true
}

// onStackTraceRequest reports a single frame named after the current
// clock cycle.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	if request.Arguments.ThreadId != threadID {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", fmt.Sprintf("unknown thread %d", request.Arguments.ThreadId))
		return
	}
	clock := s.debugger.ReadClockCycle()
	stackFrames := []dap.StackFrame{{
		Id:   s.frameHandles.create(clock),
		Name: fmt.Sprintf("cycle %d", clock),
	}}
	if request.Arguments.StartFrame > 0 {
		stackFrames = stackFrames[:0]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: 1},
	}
	s.send(response)
}

// onScopesRequest returns one scope per SM register file and one for the
// base registers.
func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	if _, ok := s.frameHandles.get(request.Arguments.FrameId); !ok {
		s.sendErrorResponse(request.Request, UnableToListRegisters, "Unable to list registers", fmt.Sprintf("unknown frame id %d", request.Arguments.FrameId))
		return
	}
	scopes := make([]dap.Scope, 0, wire.NumSMs+1)
	for sm := 0; sm < wire.NumSMs; sm++ {
		scopes = append(scopes, dap.Scope{
			Name:               fmt.Sprintf("SM %d", sm),
			VariablesReference: s.variableHandles.create(container{kind: registerFile, sm: sm}),
			IndexedVariables:   wire.NumRegisters,
			Expensive:          true,
		})
	}
	scopes = append(scopes, dap.Scope{
		Name:               "Base registers",
		VariablesReference: s.variableHandles.create(container{kind: baseTable}),
		NamedVariables:     wire.NumSMs * wire.NumDispatchUnits * wire.NumReplicationSlots,
	})
	response := &dap.ScopesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ScopesResponseBody{Scopes: scopes},
	}
	s.send(response)
}

// onVariablesRequest handles 'variables' requests. Register files are
// paged with the start and count arguments.
func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	c, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	var (
		children []dap.Variable
		err      error
	)
	switch c.kind {
	case registerFile:
		children, err = s.registerVariables(c.sm, request.Arguments.Start, request.Arguments.Count)
	case baseTable:
		children, err = s.baseVariables()
	case registerWindow:
		children, err = s.windowVariables(c)
	}
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", err.Error())
		return
	}
	response := &dap.VariablesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.VariablesResponseBody{Variables: children},
	}
	s.send(response)
}

// pageRange clips [start, start+count) to n registers. A zero count
// means the configured page size or everything after start.
func (s *Server) pageRange(start, count, n int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	if count <= 0 {
		count = s.args.PageSize
	}
	end := n
	if count > 0 && start+count < n {
		end = start + count
	}
	return start, end
}

func (s *Server) registerVariables(sm, start, count int) ([]dap.Variable, error) {
	regs := make([]uint32, wire.NumRegisters)
	if err := s.debugger.Registers(sm, regs); err != nil {
		return nil, err
	}
	start, end := s.pageRange(start, count, len(regs))
	children := make([]dap.Variable, 0, end-start)
	for i := start; i < end; i++ {
		cont, err := s.debugger.GetContention(sm, i)
		if err != nil {
			return nil, err
		}
		children = append(children, s.registerVariable(fmt.Sprintf("[%d]", i), sm, i, regs[i], cont))
	}
	return children, nil
}

func (s *Server) registerVariable(name string, sm, i int, v uint32, contention uint8) dap.Variable {
	typ := "uint32"
	if s.args.DisplayFloat {
		typ = "float32"
	}
	value := gpustate.FormatRegister(v, s.args.DisplayFloat)
	if contention > 0 {
		value = fmt.Sprintf("%s (contention %d)", value, contention)
	}
	return dap.Variable{
		Name:         name,
		Value:        value,
		Type:         typ,
		EvaluateName: fmt.Sprintf("r%d.%d", sm, i),
	}
}

// baseVariables lists every base register. Each one expands into the
// window of registers it addresses.
func (s *Server) baseVariables() ([]dap.Variable, error) {
	children := make([]dap.Variable, 0, wire.NumSMs*wire.NumDispatchUnits*wire.NumReplicationSlots)
	for sm := 0; sm < wire.NumSMs; sm++ {
		for du := 0; du < wire.NumDispatchUnits; du++ {
			for slot := 0; slot < wire.NumReplicationSlots; slot++ {
				base, err := s.debugger.GetBaseRegister(sm, du, slot)
				if err != nil {
					return nil, err
				}
				c := container{kind: registerWindow, sm: sm, du: du, slot: slot}
				children = append(children, dap.Variable{
					Name:               fmt.Sprintf("sm%d.du%d.slot%d", sm, du, slot),
					Value:              strconv.FormatUint(uint64(base), 10),
					Type:               "uint32",
					VariablesReference: s.variableHandles.create(c),
					IndexedVariables:   gpustate.WindowSize,
				})
			}
		}
	}
	return children, nil
}

func (s *Server) windowVariables(c container) ([]dap.Variable, error) {
	w, err := s.debugger.RegisterWindow(c.sm, c.du, c.slot)
	if err != nil {
		return nil, err
	}
	children := make([]dap.Variable, len(w.Entries))
	for i, e := range w.Entries {
		children[i] = s.registerVariable(fmt.Sprintf("[%d]", e.Index), c.sm, e.Index, e.Value, e.Contention)
	}
	return children, nil
}

var registerExpr = regexp.MustCompile(`^\s*r(\d+)\.(\d+)\s*$`)

// onEvaluateRequest evaluates r<sm>.<index> expressions. In the debug
// console the input may also be one of the commands in debugCommands.
func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	expr := request.Arguments.Expression
	if request.Arguments.Context == "repl" {
		out, err := s.replCmd(expr)
		switch {
		case err == nil:
			s.sendEvaluateResult(request.Request, out)
			return
		case !errors.Is(err, errNoCmd):
			s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error())
			return
		}
	}
	sm, i, err := parseRegisterExpr(expr)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error())
		return
	}
	v, err := s.debugger.GetRegister(sm, i)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", fmt.Sprintf("%s: %v", expr, err))
		return
	}
	s.sendEvaluateResult(request.Request, gpustate.FormatRegister(v, s.args.DisplayFloat))
}

func parseRegisterExpr(expr string) (sm, i int, err error) {
	m := registerExpr.FindStringSubmatch(expr)
	if m == nil {
		return 0, 0, fmt.Errorf("could not parse %q, expected r<sm>.<index>", expr)
	}
	sm, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, err
	}
	i, err = strconv.Atoi(m[2])
	return sm, i, err
}

func (s *Server) sendEvaluateResult(request dap.Request, result string) {
	response := &dap.EvaluateResponse{Response: *newResponse(request)}
	response.Body.Result = result
	s.send(response)
}

func (s *Server) sendStopped() {
	reason, _ := s.stopReason.Swap("pause").(string)
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.Reason = reason
	e.Body.ThreadId = threadID
	e.Body.AllThreadsStopped = true
	s.send(e)
}

func (s *Server) sendOutput(category, output string) {
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body:  dap.OutputEventBody{Output: output, Category: category},
	})
}

// clearStateHandles drops the references handed out for the previous
// stop. The client asks for them again after the next stopped event.
func (s *Server) clearStateHandles() {
	s.frameHandles.reset()
	s.variableHandles.reset()
}

// sendErrorResponse sends an error response. The details go in the
// message since clients display it directly.
func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = fmt.Sprintf("%s: %s", summary, details)
	s.log.WithField("id", id).Error(er.Message)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error: " + details
	s.log.WithField("id", InternalError).Error(er.Message)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
