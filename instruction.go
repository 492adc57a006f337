package psync

// InstrOp tags an Instruction's shape.
type InstrOp uint8

const (
	InstrCopy InstrOp = iota
	InstrLiteral
)

// Instruction is one step of a file's reconstruction: either a reference to
// a receiver-side block, or a span of literal bytes from the sender. A
// file's instruction stream, applied in order, reconstructs the sender's
// file byte-for-byte.
type Instruction struct {
	Op         InstrOp
	BlockIndex uint32 // valid when Op == InstrCopy
	Length     uint32 // valid when Op == InstrCopy
	Literal    []byte // valid when Op == InstrLiteral
}
