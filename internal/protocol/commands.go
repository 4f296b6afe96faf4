package protocol

// Opcodes understood by the bridge. Values are fixed by the hardware.
const (
	OpSyncBoardVersion byte = 0xA0
	OpNextRead         byte = 0x72
	OpUnitBoardVersion byte = 0xA8
	OpQueryA2          byte = 0xA2
	OpQuery94          byte = 0x94
	OpStartAutoScan    byte = 0xC9
	OpBeginWrite       byte = 0x77
	OpNextWrite        byte = 0x20
	OpBadInput         byte = 0x9A
)

// readSelectorOffset is the payload index (after the opcode) of the
// NEXT_READ block selector.
const readSelectorOffset = 2

var (
	syncBoardVersion = []byte("190523")
	unitBoardVersion = []byte("190514")

	syncBoardTrailer byte = 44

	// unitChecksum is the constant the hardware expects after the unit
	// board version, per side.
	unitChecksum = map[Side]byte{Right: 118, Left: 104}
	sideMarker   = map[Side]byte{Right: 'R', Left: 'L'}

	replyA2        = []byte{0xA2, 63, 29}
	reply94        = []byte{0x94, 0, 20}
	replyAutoScan  = []byte{0xC9, 0, 73}
	unitVersionRep = 6

	// readBlocks are the three configuration blocks served by NEXT_READ,
	// keyed by selector byte.
	readBlocks = map[byte]string{
		0x30: "    0    0    1    2    3    4    5   15   15   15   15   15   15   11   11   11",
		0x31: "   11   11   11  128  103  103  115  138  127  103  105  111  126  113   95  100",
		0x33: "  101  115   98   86   76   67   68   48  117    0   82  154    0    6   35    4",
	}
)

// Transition is the effect a command has on the handshake state.
type Transition int

const (
	Keep Transition = iota
	ToHandshaking
	ToActive
)

// Apply returns the state after the transition.
func (t Transition) Apply(s State) State {
	switch t {
	case ToHandshaking:
		return Handshaking
	case ToActive:
		return Active
	}
	return s
}

// Command is one inbound message: an opcode and whatever bytes arrived
// with it.
type Command struct {
	Opcode  byte
	Payload []byte
}

// ParseCommand splits a chunk read from the channel into a command. It
// reports false for an empty chunk.
func ParseCommand(chunk []byte) (Command, bool) {
	if len(chunk) == 0 {
		return Command{}, false
	}
	return Command{Opcode: chunk[0], Payload: chunk[1:]}, true
}

type responder func(side Side, payload []byte) []byte

type entry struct {
	name    string
	next    Transition
	respond responder
}

func fixed(b []byte) responder {
	return func(Side, []byte) []byte { return append([]byte(nil), b...) }
}

var commandTable = map[byte]entry{
	OpSyncBoardVersion: {"sync-board-version", ToHandshaking, func(Side, []byte) []byte {
		resp := []byte{OpSyncBoardVersion}
		resp = append(resp, syncBoardVersion...)
		return append(resp, syncBoardTrailer)
	}},
	OpNextRead: {"next-read", ToHandshaking, func(_ Side, payload []byte) []byte {
		if len(payload) <= readSelectorOffset {
			return nil
		}
		block, ok := readBlocks[payload[readSelectorOffset]]
		if !ok {
			return nil
		}
		resp := []byte(block)
		return append(resp, Checksum(resp))
	}},
	OpUnitBoardVersion: {"unit-board-version", ToHandshaking, func(side Side, _ []byte) []byte {
		resp := []byte{OpUnitBoardVersion}
		resp = append(resp, syncBoardVersion...)
		resp = append(resp, sideMarker[side])
		for i := 0; i < unitVersionRep; i++ {
			resp = append(resp, unitBoardVersion...)
		}
		return append(resp, unitChecksum[side])
	}},
	OpQueryA2:       {"query-a2", ToHandshaking, fixed(replyA2)},
	OpQuery94:       {"query-94", ToHandshaking, fixed(reply94)},
	OpStartAutoScan: {"start-auto-scan", ToActive, fixed(replyAutoScan)},
	OpBeginWrite:    {"begin-write", Keep, nil},
	OpNextWrite:     {"next-write", Keep, nil},
	OpBadInput:      {"bad-input", ToHandshaking, nil},
}

// Result is the outcome of dispatching one command.
type Result struct {
	Name     string
	Known    bool
	Next     Transition
	Response []byte
}

// Dispatch looks the command up in the opcode table. Unknown opcodes and
// malformed payloads produce no response; neither is an error.
func Dispatch(side Side, cmd Command) Result {
	e, ok := commandTable[cmd.Opcode]
	if !ok {
		return Result{Name: "unknown", Next: Keep}
	}
	res := Result{Name: e.name, Known: true, Next: e.next}
	if e.respond != nil {
		res.Response = e.respond(side, cmd.Payload)
	}
	return res
}

// OpcodeName returns the table name for an opcode, or "unknown".
func OpcodeName(op byte) string {
	if e, ok := commandTable[op]; ok {
		return e.name
	}
	return "unknown"
}
