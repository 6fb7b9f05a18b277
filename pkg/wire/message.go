package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is a decoded header together with its raw payload.
type Message struct {
	Header
	Payload []byte
}

// ReadMessage reads one complete message from r. The amount of payload
// read is decided by PayloadSize.
func ReadMessage(r io.Reader) (Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Message{Header: ErrorHeader}, err
	}
	m := Message{Header: h}
	if n := PayloadSize(h); n > 0 {
		m.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return Message{Header: ErrorHeader}, fmt.Errorf("reading %v payload: %w", h.Code, err)
		}
	}
	return m, nil
}

// Encode returns the wire representation of m.
func (m Message) Encode() []byte {
	return append(AppendHeader(make([]byte, 0, HeaderSize+len(m.Payload)), m.Header), m.Payload...)
}

// NewStartPaused builds the handshake sent by the debugger as soon as the
// debuggee connects to the control channel.
func NewStartPaused(startPaused bool) Message {
	var b byte
	if startPaused {
		b = 1
	}
	return Message{Header: Header{Code: StartPaused, Length: 1}, Payload: []byte{b}}
}

// NewTiming builds a ReportTiming message.
func NewTiming(cycle uint32) Message {
	return Message{
		Header:  Header{Code: ReportTiming, Length: 4},
		Payload: binary.LittleEndian.AppendUint32(nil, cycle),
	}
}

// RegisterFile is the payload of ReportRegisterFile.
type RegisterFile struct {
	SM     uint32
	Values [NumRegisters]uint32
}

// Message encodes rf.
func (rf *RegisterFile) Message() Message {
	p := make([]byte, 0, PayloadSize(Header{Code: ReportRegisterFile}))
	p = binary.LittleEndian.AppendUint32(p, rf.SM)
	for _, v := range rf.Values {
		p = binary.LittleEndian.AppendUint32(p, v)
	}
	return Message{Header: Header{Code: ReportRegisterFile, Length: uint32(len(p))}, Payload: p}
}

// BaseRegister is the payload of ReportBaseRegister.
type BaseRegister struct {
	SM           uint32
	DispatchUnit uint32
	Bases        [NumReplicationSlots]uint32
}

// Message encodes br.
func (br *BaseRegister) Message() Message {
	p := make([]byte, 0, PayloadSize(Header{Code: ReportBaseRegister}))
	p = binary.LittleEndian.AppendUint32(p, br.SM)
	p = binary.LittleEndian.AppendUint32(p, br.DispatchUnit)
	for _, v := range br.Bases {
		p = binary.LittleEndian.AppendUint32(p, v)
	}
	return Message{Header: Header{Code: ReportBaseRegister, Length: uint32(len(p))}, Payload: p}
}

// RegisterContention is the payload of ReportRegisterContestion.
type RegisterContention struct {
	SM     uint32
	Counts [NumRegisters]uint8
}

// Message encodes rc.
func (rc *RegisterContention) Message() Message {
	p := make([]byte, 0, PayloadSize(Header{Code: ReportRegisterContestion}))
	p = binary.LittleEndian.AppendUint32(p, rc.SM)
	p = append(p, rc.Counts[:]...)
	return Message{Header: Header{Code: ReportRegisterContestion, Length: uint32(len(p))}, Payload: p}
}

// DecodeTiming decodes the payload of a ReportTiming message.
func DecodeTiming(m Message) (uint32, error) {
	if m.Code != ReportTiming || len(m.Payload) != 4 {
		return 0, fmt.Errorf("not a timing report: %v", m.Header)
	}
	return binary.LittleEndian.Uint32(m.Payload), nil
}

// DecodeStartPaused decodes the payload of the StartPaused handshake.
func DecodeStartPaused(m Message) (bool, error) {
	if m.Code != StartPaused || len(m.Payload) != 1 {
		return false, fmt.Errorf("not a start paused handshake: %v", m.Header)
	}
	return m.Payload[0] != 0, nil
}

// DecodeRegisterFile decodes the payload of a ReportRegisterFile message.
func DecodeRegisterFile(m Message) (*RegisterFile, error) {
	if m.Code != ReportRegisterFile || len(m.Payload) != PayloadSize(m.Header) {
		return nil, fmt.Errorf("not a register file report: %v", m.Header)
	}
	rf := &RegisterFile{SM: binary.LittleEndian.Uint32(m.Payload)}
	for i := range rf.Values {
		rf.Values[i] = binary.LittleEndian.Uint32(m.Payload[4+i*4:])
	}
	return rf, nil
}

// DecodeBaseRegister decodes the payload of a ReportBaseRegister message.
func DecodeBaseRegister(m Message) (*BaseRegister, error) {
	if m.Code != ReportBaseRegister || len(m.Payload) != PayloadSize(m.Header) {
		return nil, fmt.Errorf("not a base register report: %v", m.Header)
	}
	br := &BaseRegister{
		SM:           binary.LittleEndian.Uint32(m.Payload),
		DispatchUnit: binary.LittleEndian.Uint32(m.Payload[4:]),
	}
	for i := range br.Bases {
		br.Bases[i] = binary.LittleEndian.Uint32(m.Payload[8+i*4:])
	}
	return br, nil
}

// DecodeRegisterContention decodes the payload of a
// ReportRegisterContestion message.
func DecodeRegisterContention(m Message) (*RegisterContention, error) {
	if m.Code != ReportRegisterContestion || len(m.Payload) != PayloadSize(m.Header) {
		return nil, fmt.Errorf("not a register contention report: %v", m.Header)
	}
	rc := &RegisterContention{SM: binary.LittleEndian.Uint32(m.Payload)}
	copy(rc.Counts[:], m.Payload[4:])
	return rc, nil
}
