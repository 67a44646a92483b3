package ctrl

// Opcode identifies one control-device operation. Values match the
// engine's CASTLE_CTRL_* ioctl numbers.
type Opcode uint32

const (
	OpClaim Opcode = iota + 1
	OpAttach
	OpDetach
	OpSnapshot
	OpCollectionAttach
	OpCollectionDetach
	OpCollectionSnapshot
	OpCreate
	OpClone
	OpDeleteVersion
	OpInit
	OpFault
	OpSlaveEvacuate
	OpSlaveScan
	OpThreadPriority
	OpDestroyVertree
	OpVertreeCompact
	OpProtocolVersion

	// Private opcodes, not part of the stable public surface; they
	// exist for diagnostics.
	OpEnvironmentSet
	OpTraceSetup
	OpTraceStart
	OpTraceStop
	OpTraceTeardown
)

// Arity names the ioctl archetype an opcode follows: how many input
// words it takes and whether it produces an output word. Every Castle
// control call fits one of these six shapes.
type Arity int

const (
	Arity0In0Out Arity = iota
	Arity0In1Out
	Arity1In0Out
	Arity1In1Out
	Arity2In0Out
	Arity3In1Out
)

// CommandSpec declares one opcode's calling convention, so Controller
// can dispatch it through a single generic path instead of one
// hand-written wrapper per ioctl.
type CommandSpec struct {
	Op    Opcode
	Name  string
	Arity Arity
}

// commandTable is grounded directly on CASTLE_IOCTLS / PRIVATE_CASTLE_IOCTLS:
// each entry's arity matches the macro invocation used to declare it.
var commandTable = []CommandSpec{
	{OpClaim, "claim", Arity1In1Out},
	{OpAttach, "attach", Arity1In1Out},
	{OpDetach, "detach", Arity1In0Out},
	{OpSnapshot, "snapshot", Arity1In1Out},
	{OpCollectionAttach, "collection_attach", Arity3In1Out},
	{OpCollectionDetach, "collection_detach", Arity1In0Out},
	{OpCollectionSnapshot, "collection_snapshot", Arity1In1Out},
	{OpCreate, "create", Arity1In1Out},
	{OpClone, "clone", Arity1In1Out},
	{OpDeleteVersion, "delete_version", Arity1In0Out},
	{OpInit, "init", Arity0In0Out},
	{OpFault, "fault", Arity2In0Out},
	{OpSlaveEvacuate, "slave_evacuate", Arity2In0Out},
	{OpSlaveScan, "slave_scan", Arity1In0Out},
	{OpThreadPriority, "thread_priority", Arity1In0Out},
	{OpDestroyVertree, "destroy_vertree", Arity1In0Out},
	{OpVertreeCompact, "vertree_compact", Arity1In0Out},
	{OpProtocolVersion, "protocol_version", Arity0In1Out},

	{OpEnvironmentSet, "environment_set", Arity3In1Out},
	{OpTraceSetup, "trace_setup", Arity2In0Out},
	{OpTraceStart, "trace_start", Arity0In0Out},
	{OpTraceStop, "trace_stop", Arity0In0Out},
	{OpTraceTeardown, "trace_teardown", Arity0In0Out},
}

func specFor(op Opcode) (CommandSpec, bool) {
	for _, s := range commandTable {
		if s.Op == op {
			return s, true
		}
	}
	return CommandSpec{}, false
}
