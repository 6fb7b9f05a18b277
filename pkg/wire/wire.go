// Package wire implements the message framing shared by the control and
// telemetry channels of the simulator debug protocol.
//
// Every message starts with an 8 byte header made of two little endian
// uint32 values: the message code and the declared payload length.
//
// The payload of a recognized code has a fixed shape implied by the code
// and the declared length is ignored when reading it. The declared length
// is only honored for codes the receiver does not know about (and for Nop),
// whose payload is skipped by reading exactly that many bytes. This keeps
// old debuggers framed when a newer simulator adds records, but there is no
// version negotiation: a sender that writes a payload of the wrong size for
// a known code desynchronizes the stream and nothing here can detect it.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Code identifies the kind of a message.
type Code uint32

const (
	Nop                      Code = 0
	StartPaused              Code = 1
	ReportTiming             Code = 2
	ReportStepReady          Code = 3
	Pause                    Code = 4
	Resume                   Code = 5
	Step                     Code = 6
	CheckForPause            Code = 7
	ReportRegisterFile       Code = 8
	ReportBaseRegister       Code = 9
	ReportRegisterContestion Code = 10

	// Error is never sent on the wire, it is returned in place of a header
	// when reading one failed.
	Error Code = 0xFFFFFFFF
)

// Dimensions of the simulated GPU as reported by the debuggee.
const (
	NumSMs              = 4
	NumRegisters        = 4096
	NumDispatchUnits    = 2
	NumReplicationSlots = 4
)

// HeaderSize is the size in bytes of a message header.
const HeaderSize = 8

var codeNames = map[Code]string{
	Nop:                      "Nop",
	StartPaused:              "StartPaused",
	ReportTiming:             "ReportTiming",
	ReportStepReady:          "ReportStepReady",
	Pause:                    "Pause",
	Resume:                   "Resume",
	Step:                     "Step",
	CheckForPause:            "CheckForPause",
	ReportRegisterFile:       "ReportRegisterFile",
	ReportBaseRegister:       "ReportBaseRegister",
	ReportRegisterContestion: "ReportRegisterContestion",
	Error:                    "Error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Known returns true if c belongs to the closed set of protocol codes.
func (c Code) Known() bool {
	_, ok := codeNames[c]
	return ok && c != Error
}

// Header is the fixed size prefix of every message.
type Header struct {
	Code   Code
	Length uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%v(length=%d)", h.Code, h.Length)
}

// ErrorHeader is returned by readers in place of a header when the read
// failed.
var ErrorHeader = Header{Code: Error}

// PayloadSize returns the number of payload bytes that follow h on the
// wire. For recognized codes this is implied by the code, h.Length is only
// used for Nop and for codes outside the protocol.
func PayloadSize(h Header) int {
	switch h.Code {
	case StartPaused:
		return 1
	case ReportTiming:
		return 4
	case ReportStepReady, Pause, Resume, Step, CheckForPause:
		return 0
	case ReportRegisterFile:
		return 4 + NumRegisters*4
	case ReportBaseRegister:
		return 8 + NumReplicationSlots*4
	case ReportRegisterContestion:
		return 4 + NumRegisters
	default:
		return int(h.Length)
	}
}

// AppendHeader appends the encoding of h to buf.
func AppendHeader(buf []byte, h Header) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Code))
	return binary.LittleEndian.AppendUint32(buf, h.Length)
}

// DecodeHeader decodes a header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	return Header{
		Code:   Code(binary.LittleEndian.Uint32(b[0:4])),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ErrorHeader, err
	}
	return DecodeHeader(buf[:]), nil
}

// WriteMessage writes a header followed by payload to w using a single
// call to w.Write so that concurrent writers serialized by the caller never
// interleave inside a message.
func WriteMessage(w io.Writer, code Code, length uint32, payload []byte) error {
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = AppendHeader(buf, Header{Code: code, Length: length})
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadUint32 reads one little endian word from r.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadUint32s fills dst with little endian words read from r.
func ReadUint32s(r io.Reader, dst []uint32) error {
	buf := make([]byte, len(dst)*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return nil
}

// Discard reads and throws away exactly n bytes from r.
func Discard(r io.Reader, n uint32) error {
	if n == 0 {
		return nil
	}
	if br, ok := r.(*bufio.Reader); ok {
		_, err := br.Discard(int(n))
		return err
	}
	_, err := io.CopyN(io.Discard, r, int64(n))
	return err
}
