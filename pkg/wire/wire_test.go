package wire

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"
)

func TestHeaderEncoding(t *testing.T) {
	buf := AppendHeader(nil, Header{Code: ReportRegisterFile, Length: 0x01020304})
	want := []byte{8, 0, 0, 0, 4, 3, 2, 1}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x want % x", buf, want)
	}
	if h := DecodeHeader(buf); h.Code != ReportRegisterFile || h.Length != 0x01020304 {
		t.Fatalf("decoded %v", h)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	rf := &RegisterFile{SM: 2}
	for i := range rf.Values {
		rf.Values[i] = uint32(i) * 3
	}
	br := &BaseRegister{SM: 3, DispatchUnit: 1, Bases: [NumReplicationSlots]uint32{16, 272, 528, 784}}
	rc := &RegisterContention{SM: 1}
	for i := range rc.Counts {
		rc.Counts[i] = uint8(i)
	}

	msgs := []Message{
		{Header: Header{Code: Nop}},
		NewStartPaused(true),
		NewStartPaused(false),
		NewTiming(123456),
		{Header: Header{Code: ReportStepReady}},
		{Header: Header{Code: Pause}},
		{Header: Header{Code: Resume}},
		{Header: Header{Code: Step}},
		{Header: Header{Code: CheckForPause}},
		rf.Message(),
		br.Message(),
		rc.Message(),
	}

	var stream bytes.Buffer
	for _, m := range msgs {
		stream.Write(m.Encode())
	}

	r := bufio.NewReader(&stream)
	for i, want := range msgs {
		got, err := ReadMessage(r)
		if err != nil {
			t.Fatalf("message %d (%v): %v", i, want.Header, err)
		}
		if got.Header != want.Header {
			t.Errorf("message %d: header %v want %v", i, got.Header, want.Header)
		}
		if len(got.Payload) != len(want.Payload) || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("message %d (%v): payload mismatch", i, want.Header)
		}
	}
	if stream.Len() != 0 || r.Buffered() != 0 {
		t.Fatalf("trailing bytes after last message")
	}

	m := msgs[9]
	rf2, err := DecodeRegisterFile(m)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rf, rf2) {
		t.Errorf("register file mismatch after round trip")
	}
	br2, err := DecodeBaseRegister(msgs[10])
	if err != nil {
		t.Fatal(err)
	}
	if *br2 != *br {
		t.Errorf("base register mismatch: %#v %#v", br2, br)
	}
	rc2, err := DecodeRegisterContention(msgs[11])
	if err != nil {
		t.Fatal(err)
	}
	if *rc2 != *rc {
		t.Errorf("contention mismatch after round trip")
	}
	if c, _ := DecodeTiming(msgs[3]); c != 123456 {
		t.Errorf("timing %d", c)
	}
	if b, _ := DecodeStartPaused(msgs[1]); !b {
		t.Errorf("start paused lost")
	}
}

func TestRecognizedCodesIgnoreDeclaredLength(t *testing.T) {
	// A timing report that lies about its length must still consume
	// exactly four bytes.
	var stream bytes.Buffer
	stream.Write(AppendHeader(nil, Header{Code: ReportTiming, Length: 0}))
	stream.Write([]byte{7, 0, 0, 0})
	stream.Write(AppendHeader(nil, Header{Code: CheckForPause, Length: 1000}))

	m, err := ReadMessage(&stream)
	if err != nil {
		t.Fatal(err)
	}
	if c, _ := DecodeTiming(m); c != 7 {
		t.Fatalf("clock %d", c)
	}
	m, err = ReadMessage(&stream)
	if err != nil {
		t.Fatal(err)
	}
	if m.Code != CheckForPause || len(m.Payload) != 0 {
		t.Fatalf("got %v with %d payload bytes", m.Header, len(m.Payload))
	}
}

func TestUnknownCodeSkipped(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(AppendHeader(nil, Header{Code: 99, Length: 5}))
	stream.Write([]byte{1, 2, 3, 4, 5})
	stream.Write(AppendHeader(nil, Header{Code: ReportTiming, Length: 0}))
	stream.Write([]byte{0x2a, 0, 0, 0})

	for _, r := range []interface {
		Read([]byte) (int, error)
	}{bytes.NewReader(stream.Bytes()), bufio.NewReader(bytes.NewReader(stream.Bytes()))} {
		h, err := ReadHeader(r)
		if err != nil {
			t.Fatal(err)
		}
		if h.Code.Known() {
			t.Fatalf("code %v should be unknown", h.Code)
		}
		if err := Discard(r, h.Length); err != nil {
			t.Fatal(err)
		}
		h, err = ReadHeader(r)
		if err != nil {
			t.Fatal(err)
		}
		if h.Code != ReportTiming {
			t.Fatalf("stream not realigned, got %v", h)
		}
		v, err := ReadUint32(r)
		if err != nil {
			t.Fatal(err)
		}
		if v != 0x2a {
			t.Fatalf("clock %#x", v)
		}
	}
}

func TestReadHeaderShort(t *testing.T) {
	h, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil {
		t.Fatal("expected error")
	}
	if h != ErrorHeader {
		t.Fatalf("got %v", h)
	}
}

func TestCodeString(t *testing.T) {
	for _, tc := range []struct {
		c    Code
		want string
	}{
		{ReportRegisterContestion, "ReportRegisterContestion"},
		{Error, "Error"},
		{99, "Code(99)"},
	} {
		if got := tc.c.String(); got != tc.want {
			t.Errorf("%d: got %q want %q", uint32(tc.c), got, tc.want)
		}
	}
	if Error.Known() {
		t.Errorf("Error must not be a wire code")
	}
}
