package dap

const startHandle = 1000

// handlesMap maps arbitrary values to unique sequential ids.
// This provides convenient abstraction of references, offering
// opacity and allowing simplification of complex identifiers.
// Based on
// https://github.com/microsoft/vscode-debugadapter-node/blob/master/adapter/src/handles.ts
type handlesMap[T any] struct {
	nextHandle  int
	handleToVal map[int]T
}

func newHandlesMap[T any]() *handlesMap[T] {
	return &handlesMap[T]{startHandle, make(map[int]T)}
}

func (hs *handlesMap[T]) reset() {
	hs.nextHandle = startHandle
	hs.handleToVal = make(map[int]T)
}

func (hs *handlesMap[T]) create(value T) int {
	next := hs.nextHandle
	hs.nextHandle++
	hs.handleToVal[next] = value
	return next
}

func (hs *handlesMap[T]) get(handle int) (T, bool) {
	v, ok := hs.handleToVal[handle]
	return v, ok
}

// container is what a variables reference points at: the register file
// of an SM, the table of base registers or the window addressed by one
// base register.
type container struct {
	kind containerKind
	sm   int
	du   int
	slot int
}

type containerKind uint8

const (
	registerFile containerKind = iota
	baseTable
	registerWindow
)
