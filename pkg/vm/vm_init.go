package vm

// ProfilingFlags are the per-feature profiling toggles.
// Instructions gates per-instruction sampling and the fusion window,
// HotPaths gates loop sampling (and with it JIT promotion), FunctionCalls
// gates per-function call counting. The remaining three have no in-core
// consumer: they ride along in the config for the out-of-scope profiling
// exporter to read.
type ProfilingFlags struct {
	Instructions     bool
	HotPaths         bool
	BranchPrediction bool
	FunctionCalls    bool
	RegisterUsage    bool
	MemoryAccess     bool
}

// VMConfig carries every tunable the core recognizes, surfaced as plain
// struct fields rather than direct environment reads so an embedding host
// controls them explicitly (environment parsing belongs to the driver).
type VMConfig struct {
	HotInstructionThreshold int
	HotLoopThreshold        int
	Profiling               ProfilingFlags

	// GuardThreshold and MaxIterations implement the loop safety net:
	// DefaultVMConfig warns at 1,000,000 iterations and errors at
	// 10,000,000.
	GuardThreshold uint64
	MaxIterations  uint64 // 0 disables the hard error

	GCInitialThreshold uint64 // 0 means let the collector pick its own default

	EnableJIT       bool
	JITAllowedKinds map[ValueType]bool
}

// DefaultVMConfig returns the stock configuration.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		HotInstructionThreshold: DefaultHotInstructionThreshold,
		HotLoopThreshold:        DefaultHotLoopThreshold,
		Profiling: ProfilingFlags{
			Instructions:  true,
			HotPaths:      true,
			FunctionCalls: true,
		},
		GuardThreshold:          1_000_000,
		MaxIterations:           10_000_000,
		EnableJIT:               true,
		JITAllowedKinds: map[ValueType]bool{
			TypeI32: true, TypeI64: true, TypeU32: true, TypeU64: true, TypeF64: true,
		},
	}
}

// NewVM constructs a ready-to-run VM.
func NewVM(config VMConfig) *VM {
	vm := &VM{Config: config}
	vm.Init()
	return vm
}

// Init (re-)establishes every collaborator a VM needs, filling in only
// what's missing so it's safe to call again after Reset or on a VM built
// via a bare VM{} literal with a pre-set Config.
func (vm *VM) Init() {
	if vm.GCObj == nil {
		vm.GCObj = NewGCWithThreshold(vm.Config.GCInitialThreshold)
	}
	if vm.Regs == nil {
		vm.Regs = NewRegisterFile()
	}
	if vm.Typed == nil {
		vm.Typed = NewTypedRegisterCache()
	}
	if vm.Prof == nil {
		vm.Prof = NewProfiler(vm.Config.HotInstructionThreshold, vm.Config.HotLoopThreshold)
	}
	if vm.Entries == nil {
		vm.Entries = NewEntryCache()
	}
	if vm.Modules == nil {
		vm.Modules = NewModuleManager()
	}
	if vm.Interned == nil {
		vm.Interned = NewInternTable(vm.GCObj)
	}
	if vm.natives == nil {
		vm.natives = make(map[string]NativeFn)
	}
	if vm.out == nil {
		vm.out = stdoutPrinter{}
	}
	vm.isShuttingDown = false
}

// Free tears the VM down. The entry
// cache is explicitly flushed since nothing may run a stale compiled loop
// against a VM that's going away.
func (vm *VM) Free() {
	vm.isShuttingDown = true
	vm.Entries.Bump()
	vm.frames = nil
	vm.tryStack = nil
	vm.openUpvalues = nil
}

// Reset restores the VM to a freshly-initialized state without tearing
// down the process around it.
func (vm *VM) Reset() {
	vm.Regs = NewRegisterFile()
	vm.Typed.Reset()
	vm.Prof.Reset()
	vm.Modules.Reset()
	vm.Entries.Bump()

	vm.frames = nil
	vm.tryStack = nil
	vm.openUpvalues = nil
	vm.lastError = Value{}
	vm.hasError = false
	vm.loopIterations = 0
	vm.guardWarned = false
	vm.scriptResult = Value{}
	vm.isShuttingDown = false
}

// RegisterNative installs a native function under name, interning the name
// string so it survives as a GC root even though nothing in the object
// graph otherwise references it.
func (vm *VM) RegisterNative(name string, fn NativeFn) {
	if _, exists := vm.natives[name]; !exists {
		vm.nativeOrder = append(vm.nativeOrder, name)
		vm.nativeNameObjs = append(vm.nativeNameObjs, vm.Interned.Intern(name))
	}
	vm.natives[name] = fn
}
