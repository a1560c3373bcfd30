package vm

import (
	"fmt"
	"time"
)

// MaxModules bounds the module manager's capacity.
const MaxModules = 256

// ModuleRecord is a module as the core consumes it: an already-compiled
// chunk plus its export/import tables, register window, and the on-disk
// provenance the driver resolved it from. Path resolution and compilation
// happen in the driver; the core never opens module files, it only carries
// Path and Mtime so a host can detect a stale record.
type ModuleRecord struct {
	Name     string
	Chunk    *Chunk
	Exports  map[string]int    // export name -> slot index within Window
	Imports  map[string]string // local binding name -> "module.export" it resolves to
	Window   [moduleBankSize]Value
	Executed bool
	Path     string // on-disk path the driver loaded this module from, empty for synthetic modules
	Mtime    time.Time
}

func NewModuleRecord(name string, chunk *Chunk) *ModuleRecord {
	return &ModuleRecord{
		Name:    name,
		Chunk:   chunk,
		Exports: make(map[string]int),
		Imports: make(map[string]string),
	}
}

// AddImport records that local resolves to another module's export,
// written as "module.export".
func (m *ModuleRecord) AddImport(local, target string) {
	m.Imports[local] = target
}

// GetImport looks up where a local binding name was imported from.
func (m *ModuleRecord) GetImport(local string) (string, bool) {
	target, ok := m.Imports[local]
	return target, ok
}

// Stale reports whether the on-disk file the record was loaded from has
// been modified since, for hosts that track Path/Mtime. Records with no
// path are never stale.
func (m *ModuleRecord) Stale(currentMtime time.Time) bool {
	return m.Path != "" && currentMtime.After(m.Mtime)
}

// Export binds name to slot and writes its current value into the
// module's register window.
func (m *ModuleRecord) Export(name string, slot int, v Value) {
	m.Exports[name] = slot
	m.Window[slot] = v
}

// GetExport looks up an exported binding by name.
func (m *ModuleRecord) GetExport(name string) (Value, bool) {
	slot, ok := m.Exports[name]
	if !ok {
		return Value{}, false
	}
	return m.Window[slot], true
}

// ModuleManager resolves module names to records.
type ModuleManager struct {
	records map[string]*ModuleRecord
	order   []string // registration order, walked for GC roots and Reset
}

func NewModuleManager() *ModuleManager {
	return &ModuleManager{records: make(map[string]*ModuleRecord)}
}

func (mm *ModuleManager) Register(rec *ModuleRecord) error {
	if _, exists := mm.records[rec.Name]; exists {
		return fmt.Errorf("module %q already registered", rec.Name)
	}
	if len(mm.records) >= MaxModules {
		return fmt.Errorf("module manager capacity exceeded (max %d)", MaxModules)
	}
	mm.records[rec.Name] = rec
	mm.order = append(mm.order, rec.Name)
	return nil
}

func (mm *ModuleManager) Get(name string) (*ModuleRecord, bool) {
	rec, ok := mm.records[name]
	return rec, ok
}

func (mm *ModuleManager) MarkExecuted(name string) {
	if rec, ok := mm.records[name]; ok {
		rec.Executed = true
	}
}

func (mm *ModuleManager) Len() int { return len(mm.records) }

// Roots collects every heap object reachable from a loaded module's export
// window, for the GC's "loaded-module list" root.
func (mm *ModuleManager) Roots() []*Object {
	var roots []*Object
	for _, name := range mm.order {
		rec := mm.records[name]
		for _, v := range rec.Window {
			if v.IsHeap() && v.Object() != nil {
				roots = append(roots, v.Object())
			}
		}
	}
	return roots
}

// Reset drops every registered module (VM reset without teardown).
func (mm *ModuleManager) Reset() {
	mm.records = make(map[string]*ModuleRecord)
	mm.order = nil
}
