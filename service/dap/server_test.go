package dap

import (
	"context"
	"flag"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-dap"

	"github.com/softgpu/gpudbg/pkg/gputest"
	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/wire"
	"github.com/softgpu/gpudbg/service/control"
	"github.com/softgpu/gpudbg/service/dap/daptest"
	"github.com/softgpu/gpudbg/service/debugger"
)

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

type fixture struct {
	d              *debugger.Debugger
	controlPath    string
	telemetryPath  string
	disconnectChan chan struct{}
}

func (f *fixture) connect(t *testing.T) *gputest.Simulator {
	t.Helper()
	sim := gputest.MustConnect(t, f.controlPath, f.telemetryPath)
	waitFor(t, "connection", f.d.IsReady)
	return sim
}

// runTest starts a debugger and a DAP server and connects a client to it.
func runTest(t *testing.T, test func(c *daptest.Client, f *fixture)) {
	controlPath, telemetryPath := gputest.Endpoints(t)
	d, err := debugger.New(&debugger.Config{
		ControlPath:   controlPath,
		TelemetryPath: telemetryPath,
		PollInterval:  time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server := NewServer(&Config{
		Listener:       listener,
		DisconnectChan: disconnectChan,
		Debugger:       d,
	})
	server.Run()
	defer server.Stop()

	client := daptest.NewClient(listener.Addr().String())
	defer client.Close()

	test(client, &fixture{d: d, controlPath: controlPath, telemetryPath: telemetryPath, disconnectChan: disconnectChan})
}

// runSimulator clocks sim until its connection breaks.
func runSimulator(sim *gputest.Simulator) {
	go func() {
		for sim.Clock() == nil {
			time.Sleep(100 * time.Microsecond)
		}
	}()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// attach runs the initialization sequence with a connected simulator.
func attach(t *testing.T, c *daptest.Client, args map[string]interface{}) {
	t.Helper()
	c.InitializeRequest()
	c.ExpectInitializeResponse(t)
	c.AttachRequest(args)
	c.ExpectAttachResponse(t)
	c.ExpectInitializedEvent(t)
	c.ConfigurationDoneRequest()
	c.ExpectConfigurationDoneResponse(t)
}

func stoppedReason(t *testing.T, m dap.Message) string {
	t.Helper()
	e, ok := m.(*dap.StoppedEvent)
	if !ok {
		t.Fatalf("got %#v, want stopped event", m)
	}
	if e.Body.ThreadId != 1 || !e.Body.AllThreadsStopped {
		t.Errorf("got %#v, want ThreadId=1 AllThreadsStopped=true", e.Body)
	}
	return e.Body.Reason
}

func TestInitializeAttachConfigure(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		c.InitializeRequest()
		c.ExpectInitializeResponse(t)

		c.AttachRequest(nil)
		c.ExpectAttachResponse(t)
		c.ExpectInitializedEvent(t)
		out := c.ExpectOutputEvent(t)
		if !strings.Contains(out.Body.Output, f.controlPath) {
			t.Errorf("output %q does not name the control endpoint", out.Body.Output)
		}

		c.SetBreakpointsRequest("kernel.s", []int{4, 8})
		bps := c.ExpectSetBreakpointsResponse(t)
		if len(bps.Body.Breakpoints) != 2 || bps.Body.Breakpoints[0].Verified {
			t.Errorf("got %#v, want two unverified breakpoints", bps.Body.Breakpoints)
		}

		c.ConfigurationDoneRequest()
		c.ExpectConfigurationDoneResponse(t)

		c.ThreadsRequest()
		threads := c.ExpectThreadsResponse(t)
		if len(threads.Body.Threads) != 1 || threads.Body.Threads[0].Id != 1 || threads.Body.Threads[0].Name != "gpu" {
			t.Errorf("got %#v, want one thread gpu", threads.Body.Threads)
		}
	})
}

func TestLaunchIsAttach(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		f.connect(t)
		c.InitializeRequest()
		c.ExpectInitializeResponse(t)
		c.LaunchRequest(map[string]interface{}{"displayFloat": true})
		c.ExpectLaunchResponse(t)
		c.ExpectInitializedEvent(t)
	})
}

func TestAttachBadArguments(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		c.InitializeRequest()
		c.ExpectInitializeResponse(t)
		c.AttachRequest(map[string]interface{}{"pageSize": "many"})
		er := c.ExpectErrorResponse(t)
		if er.Command != "attach" || !strings.Contains(er.Message, "pageSize") {
			t.Errorf("got %#v", er.Response)
		}
	})
}

func TestPauseNextContinue(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		sim := f.connect(t)
		runSimulator(sim)
		attach(t, c, nil)

		c.NextRequest(1)
		if er := c.ExpectErrorResponse(t); er.Command != "next" {
			t.Errorf("got %#v, want error for next while running", er.Response)
		}

		c.PauseRequest(1)
		got := c.ExpectMessages(t, 2)
		if _, ok := got["pause"].(*dap.PauseResponse); !ok {
			t.Fatalf("no pause response in %v", got)
		}
		if r := stoppedReason(t, got["stopped"]); r != "pause" {
			t.Errorf("stopped reason %q, want pause", r)
		}

		c.StackTraceRequest(1, 0, 20)
		st := c.ExpectStackTraceResponse(t)
		if len(st.Body.StackFrames) != 1 || st.Body.TotalFrames != 1 {
			t.Fatalf("got %#v, want one frame", st.Body)
		}
		if !strings.HasPrefix(st.Body.StackFrames[0].Name, "cycle ") {
			t.Errorf("frame name %q", st.Body.StackFrames[0].Name)
		}

		c.NextRequest(1)
		got = c.ExpectMessages(t, 2)
		if _, ok := got["next"].(*dap.NextResponse); !ok {
			t.Fatalf("no next response in %v", got)
		}
		if r := stoppedReason(t, got["stopped"]); r != "step" {
			t.Errorf("stopped reason %q, want step", r)
		}

		c.StepInRequest(1)
		got = c.ExpectMessages(t, 2)
		if _, ok := got["stepIn"].(*dap.StepInResponse); !ok {
			t.Fatalf("no stepIn response in %v", got)
		}
		if r := stoppedReason(t, got["stopped"]); r != "step" {
			t.Errorf("stopped reason %q, want step", r)
		}

		c.ContinueRequest(1)
		cont := c.ExpectContinueResponse(t)
		if !cont.Body.AllThreadsContinued {
			t.Errorf("got %#v, want AllThreadsContinued", cont.Body)
		}
		if s := f.d.State(); s != control.Running {
			t.Errorf("state %v after continue", s)
		}
	})
}

func TestStopOnEntry(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		c.InitializeRequest()
		c.ExpectInitializeResponse(t)
		c.AttachRequest(map[string]interface{}{"stopOnEntry": true})
		c.ExpectAttachResponse(t)
		c.ExpectInitializedEvent(t)
		c.ExpectOutputEvent(t)
		c.ConfigurationDoneRequest()
		c.ExpectConfigurationDoneResponse(t)

		runSimulator(f.connect(t))
		if r := stoppedReason(t, c.ReadMessage(t)); r != "entry" {
			t.Errorf("stopped reason %q, want entry", r)
		}
	})
}

func sendRegisters(t *testing.T, f *fixture, sim *gputest.Simulator) {
	t.Helper()
	rf := &wire.RegisterFile{SM: 1}
	for i := range rf.Values {
		rf.Values[i] = 0x2A
	}
	rc := &wire.RegisterContention{SM: 1}
	rc.Counts[300] = 9
	br := &wire.BaseRegister{SM: 1, DispatchUnit: 0, Bases: [4]uint32{256, 0, 0, 0}}
	for _, m := range []wire.Message{rf.Message(), rc.Message(), br.Message(), wire.NewTiming(10)} {
		if err := sim.SendTelemetry(m); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "telemetry", func() bool { return f.d.ReadClockCycle() == 10 })
}

func TestRegisterScopes(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		sim := f.connect(t)
		sendRegisters(t, f, sim)
		attach(t, c, nil)

		c.StackTraceRequest(1, 0, 0)
		st := c.ExpectStackTraceResponse(t)
		if name := st.Body.StackFrames[0].Name; name != "cycle 10" {
			t.Errorf("frame name %q, want cycle 10", name)
		}

		c.ScopesRequest(st.Body.StackFrames[0].Id)
		scopes := c.ExpectScopesResponse(t).Body.Scopes
		if len(scopes) != 5 {
			t.Fatalf("got %d scopes, want 5", len(scopes))
		}
		if scopes[1].Name != "SM 1" || scopes[1].IndexedVariables != wire.NumRegisters {
			t.Errorf("got %#v", scopes[1])
		}
		if scopes[4].Name != "Base registers" {
			t.Errorf("got %#v", scopes[4])
		}

		// Paging past the end of the register file is clipped.
		c.VariablesRequest(scopes[1].VariablesReference, 4090, 10)
		vars := c.ExpectVariablesResponse(t).Body.Variables
		if len(vars) != 6 {
			t.Fatalf("got %d variables, want 6", len(vars))
		}
		if vars[0].Name != "[4090]" || vars[0].Value != "0x0000002A" || vars[0].EvaluateName != "r1.4090" {
			t.Errorf("got %#v", vars[0])
		}

		c.VariablesRequest(scopes[0].VariablesReference, 0, 0)
		if vars := c.ExpectVariablesResponse(t).Body.Variables; len(vars) != wire.NumRegisters || vars[0].Value != "0x00000000" {
			t.Errorf("got %d variables", len(vars))
		}

		c.VariablesRequest(scopes[4].VariablesReference, 0, 0)
		bases := c.ExpectVariablesResponse(t).Body.Variables
		if len(bases) != 32 {
			t.Fatalf("got %d base registers, want 32", len(bases))
		}
		b := bases[8]
		if b.Name != "sm1.du0.slot0" || b.Value != "256" || b.VariablesReference == 0 {
			t.Fatalf("got %#v", b)
		}

		c.VariablesRequest(b.VariablesReference, 0, 0)
		window := c.ExpectVariablesResponse(t).Body.Variables
		if len(window) != 256 {
			t.Fatalf("got %d window entries, want 256", len(window))
		}
		if w := window[44]; w.Name != "[300]" || w.Value != "0x0000002A (contention 9)" {
			t.Errorf("got %#v", w)
		}

		c.VariablesRequest(9999, 0, 0)
		if er := c.ExpectErrorResponse(t); !strings.Contains(er.Message, "unknown reference") {
			t.Errorf("got %q", er.Message)
		}
	})
}

func TestEvaluate(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		sim := f.connect(t)
		sendRegisters(t, f, sim)
		attach(t, c, nil)

		c.EvaluateRequest("r1.4095", 0, "watch")
		if got := c.ExpectEvaluateResponse(t).Body.Result; got != "0x0000002A" {
			t.Errorf("r1.4095 = %q", got)
		}

		for _, expr := range []string{"r4.0", "r0.4096", "clock", "help"} {
			c.EvaluateRequest(expr, 0, "hover")
			if er := c.ExpectErrorResponse(t); er.Command != "evaluate" {
				t.Errorf("%s: got %#v", expr, er.Response)
			}
		}

		c.EvaluateRequest("help", 0, "repl")
		if got := c.ExpectEvaluateResponse(t).Body.Result; !strings.Contains(got, "startpaused") {
			t.Errorf("help output %q", got)
		}

		c.EvaluateRequest("fp on", 0, "repl")
		c.ExpectEvaluateResponse(t)
		c.EvaluateRequest("r1.0", 0, "repl")
		if got := c.ExpectEvaluateResponse(t).Body.Result; strings.HasPrefix(got, "0x") {
			t.Errorf("r1.0 = %q after fp on", got)
		}

		c.EvaluateRequest("startpaused maybe", 0, "repl")
		c.ExpectErrorResponse(t)
		c.EvaluateRequest("startpaused on", 0, "repl")
		c.ExpectEvaluateResponse(t)
		if !f.d.StartPaused() {
			t.Errorf("startpaused on did not reach the debugger")
		}
	})
}

func TestUnsupportedRequest(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		c.StepOutRequest(1)
		er := c.ExpectErrorResponse(t)
		if er.Command != "stepOut" || !strings.Contains(er.Message, "Unsupported command") {
			t.Errorf("got %#v", er.Response)
		}
	})
}

func TestDisconnectResumes(t *testing.T) {
	runTest(t, func(c *daptest.Client, f *fixture) {
		sim := f.connect(t)
		runSimulator(sim)
		attach(t, c, nil)

		c.PauseRequest(1)
		c.ExpectMessages(t, 2)
		if !f.d.IsStepReady() {
			t.Fatalf("simulator not paused")
		}

		c.DisconnectRequest()
		c.ExpectDisconnectResponse(t)
		select {
		case <-f.disconnectChan:
		case <-time.After(5 * time.Second):
			t.Fatalf("disconnect was not signaled")
		}
		if s := f.d.State(); s != control.Running {
			t.Errorf("state %v after disconnect", s)
		}
	})
}

func TestParseRegisterExpr(t *testing.T) {
	for _, tc := range []struct {
		expr    string
		sm, idx int
		ok      bool
	}{
		{"r1.42", 1, 42, true},
		{" r0.0 ", 0, 0, true},
		{"r3.4095", 3, 4095, true},
		{"r1", 0, 0, false},
		{"x1.2", 0, 0, false},
		{"r1.-2", 0, 0, false},
	} {
		sm, idx, err := parseRegisterExpr(tc.expr)
		if (err == nil) != tc.ok {
			t.Errorf("%q: err %v", tc.expr, err)
			continue
		}
		if tc.ok && (sm != tc.sm || idx != tc.idx) {
			t.Errorf("%q: got %d.%d", tc.expr, sm, idx)
		}
	}
}

func TestPageRange(t *testing.T) {
	s := &Server{}
	for _, tc := range []struct {
		pageSize, start, count int
		wantStart, wantEnd     int
	}{
		{0, 0, 0, 0, 4096},
		{0, 100, 50, 100, 150},
		{0, 4090, 10, 4090, 4096},
		{0, 5000, 10, 4096, 4096},
		{64, 0, 0, 0, 64},
		{64, 10, 5, 10, 15},
	} {
		s.args.PageSize = tc.pageSize
		start, end := s.pageRange(tc.start, tc.count, 4096)
		if start != tc.wantStart || end != tc.wantEnd {
			t.Errorf("pageRange(%d, %d) with page size %d = [%d, %d), want [%d, %d)",
				tc.start, tc.count, tc.pageSize, start, end, tc.wantStart, tc.wantEnd)
		}
	}
}
