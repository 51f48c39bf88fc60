// Package action describes the operations exposed over the guestfs protocol.
//
// A Descriptor is the static shape of one operation: its procedure number,
// its ordered required and optional arguments, its return type and a few
// behavioural flags. Both the client marshaller and the daemon dispatcher
// consult the same descriptors, so argument shapes can never drift apart
// between the two ends.
//
// Descriptors are registered once at process start (see Registry and
// Builtin) and are immutable afterwards.
package action

import "fmt"

// MaxOptArgs is the number of optional arguments that fit in the 64-bit
// optional-argument bitmask.
const MaxOptArgs = 64

// ============================================================================
// Argument Kinds
// ============================================================================

// ArgKind is the type of one argument.
type ArgKind uint8

const (
	// Bool is an XDR boolean.
	Bool ArgKind = iota + 1
	// Int is a signed 32-bit integer.
	Int
	// Int64 is a signed 64-bit integer.
	Int64
	// String is a UTF-8 string that the daemon uses verbatim.
	String
	// OptString is a string that may be absent. It travels as an XDR
	// optional so that absence is explicit on the wire.
	OptString
	// StringList is a counted array of strings.
	StringList
	// Buffer is an opaque byte buffer with explicit length.
	Buffer
	// Pathname is an absolute path inside the guest filesystem. The daemon
	// validates and resolves it before the implementation runs.
	Pathname
	// Device is a block device name (/dev/...), resolved through the
	// daemon's device map.
	Device
	// DevOrPath is a device if it starts with /dev/, a Pathname otherwise.
	DevOrPath
	// FileIn is a token naming a client-side input stream. It does not
	// appear in the encoded arguments; it selects the upload side channel.
	FileIn
	// FileOut is a token naming a client-side output stream, streamed back
	// from the daemon after the reply header.
	FileOut
)

var argKindNames = map[ArgKind]string{
	Bool:       "Bool",
	Int:        "Int",
	Int64:      "Int64",
	String:     "String",
	OptString:  "OptString",
	StringList: "StringList",
	Buffer:     "Buffer",
	Pathname:   "Pathname",
	Device:     "Device",
	DevOrPath:  "DevOrPath",
	FileIn:     "FileIn",
	FileOut:    "FileOut",
}

func (k ArgKind) String() string {
	if s, ok := argKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ArgKind(%d)", uint8(k))
}

// IsStringLike reports whether values of this kind are strings in Go and
// therefore subject to the "never null" rule.
func (k ArgKind) IsStringLike() bool {
	switch k {
	case String, Pathname, Device, DevOrPath:
		return true
	}
	return false
}

// OnWire reports whether the argument is part of the encoded argument body.
func (k ArgKind) OnWire() bool {
	return k != FileIn && k != FileOut
}

// validOptional reports whether the kind may be used for an optional
// argument. Paths and side-channel tokens are always required.
func (k ArgKind) validOptional() bool {
	switch k {
	case Bool, Int, Int64, String, StringList:
		return true
	}
	return false
}

// ArgSpec describes one required argument.
type ArgSpec struct {
	Name string
	Kind ArgKind
}

// OptArgSpec describes one optional argument. Its index in
// Descriptor.OptArgs is its bit in the optional-argument bitmask.
type OptArgSpec struct {
	Name string
	Kind ArgKind
}

// ============================================================================
// Return Types
// ============================================================================

// RetKind is the type of an action's return value.
type RetKind uint8

const (
	// RetNone returns nothing beyond success or error.
	RetNone RetKind = iota
	RetInt
	RetInt64
	RetBool
	RetString
	RetStringList
	// RetHashtable is a flattened list of alternating keys and values.
	RetHashtable
	// RetStruct is one fixed-layout struct named by RetSpec.Struct.
	RetStruct
	// RetStructList is a counted list of RetSpec.Struct.
	RetStructList
	// RetBuffer is a length-prefixed byte buffer.
	RetBuffer
)

var retKindNames = map[RetKind]string{
	RetNone:       "none",
	RetInt:        "int",
	RetInt64:      "int64",
	RetBool:       "bool",
	RetString:     "string",
	RetStringList: "string list",
	RetHashtable:  "hashtable",
	RetStruct:     "struct",
	RetStructList: "struct list",
	RetBuffer:     "buffer",
}

func (k RetKind) String() string {
	if s, ok := retKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RetKind(%d)", uint8(k))
}

// RetSpec describes the return value.
type RetSpec struct {
	Kind RetKind
	// Struct names the wire struct for RetStruct and RetStructList.
	Struct string
}

// Names of the fixed-layout structs known to the wire codec.
const (
	StructStat    = "stat"
	StructStatVFS = "statvfs"
	StructDirent  = "dirent"
	StructVersion = "version"
)

// ============================================================================
// Descriptor
// ============================================================================

// Flags are behavioural properties of an action.
type Flags uint8

const (
	// FlagCancellable marks actions whose file transfer can be cancelled.
	FlagCancellable Flags = 1 << iota
	// FlagProgress marks actions that emit progress messages.
	FlagProgress
	// FlagConfigOnly marks actions that may only be called before Launch.
	FlagConfigOnly
)

// Descriptor is the static metadata of one action.
type Descriptor struct {
	Name    string
	ProcNr  uint32
	Args    []ArgSpec
	OptArgs []OptArgSpec
	Ret     RetSpec
	Flags   Flags
	// Summary is a one-line description used by command line tools.
	Summary string
}

// Cancellable reports whether the action's file transfer may be cancelled.
func (d *Descriptor) Cancellable() bool { return d.Flags&FlagCancellable != 0 }

// EmitsProgress reports whether the action sends progress messages.
func (d *Descriptor) EmitsProgress() bool { return d.Flags&FlagProgress != 0 }

// ConfigOnly reports whether the action is restricted to the config phase.
func (d *Descriptor) ConfigOnly() bool { return d.Flags&FlagConfigOnly != 0 }

// FileIn returns the index of the FileIn argument, or -1.
func (d *Descriptor) FileIn() int { return d.indexOf(FileIn) }

// FileOut returns the index of the FileOut argument, or -1.
func (d *Descriptor) FileOut() int { return d.indexOf(FileOut) }

// HasFileIn reports whether the action uploads a file.
func (d *Descriptor) HasFileIn() bool { return d.FileIn() >= 0 }

// HasFileOut reports whether the action downloads a file.
func (d *Descriptor) HasFileOut() bool { return d.FileOut() >= 0 }

func (d *Descriptor) indexOf(k ArgKind) int {
	for i, a := range d.Args {
		if a.Kind == k {
			return i
		}
	}
	return -1
}

// OptArgIndex returns the bit position of the named optional argument.
func (d *Descriptor) OptArgIndex(name string) (int, bool) {
	for i, o := range d.OptArgs {
		if o.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Validate checks the descriptor's internal consistency.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("action with proc %d has no name", d.ProcNr)
	}
	if d.ProcNr == 0 {
		return fmt.Errorf("action %s: procedure number 0 is reserved", d.Name)
	}
	if len(d.OptArgs) > MaxOptArgs {
		return fmt.Errorf("action %s: %d optional arguments exceed the maximum of %d", d.Name, len(d.OptArgs), MaxOptArgs)
	}

	seen := make(map[string]bool, len(d.Args)+len(d.OptArgs))
	var fileIn, fileOut int
	for _, a := range d.Args {
		if _, ok := argKindNames[a.Kind]; !ok {
			return fmt.Errorf("action %s: argument %q has unknown kind %d", d.Name, a.Name, a.Kind)
		}
		if a.Name == "" || seen[a.Name] {
			return fmt.Errorf("action %s: empty or duplicate argument name %q", d.Name, a.Name)
		}
		seen[a.Name] = true
		switch a.Kind {
		case FileIn:
			fileIn++
		case FileOut:
			fileOut++
		}
	}
	if fileIn > 1 || fileOut > 1 {
		return fmt.Errorf("action %s: at most one FileIn and one FileOut argument", d.Name)
	}
	if fileIn > 0 && fileOut > 0 {
		return fmt.Errorf("action %s: cannot have both FileIn and FileOut arguments", d.Name)
	}
	if d.Cancellable() && fileIn == 0 && fileOut == 0 {
		return fmt.Errorf("action %s: only file transfers can be cancellable", d.Name)
	}

	for _, o := range d.OptArgs {
		if !o.Kind.validOptional() {
			return fmt.Errorf("action %s: optional argument %q cannot have kind %s", d.Name, o.Name, o.Kind)
		}
		if o.Name == "" || seen[o.Name] {
			return fmt.Errorf("action %s: empty or duplicate argument name %q", d.Name, o.Name)
		}
		seen[o.Name] = true
	}

	switch d.Ret.Kind {
	case RetStruct, RetStructList:
		if d.Ret.Struct == "" {
			return fmt.Errorf("action %s: %s return needs a struct name", d.Name, d.Ret.Kind)
		}
	default:
		if _, ok := retKindNames[d.Ret.Kind]; !ok {
			return fmt.Errorf("action %s: unknown return kind %d", d.Name, d.Ret.Kind)
		}
		if d.Ret.Struct != "" {
			return fmt.Errorf("action %s: struct name set on %s return", d.Name, d.Ret.Kind)
		}
	}
	if d.HasFileOut() && d.Ret.Kind != RetNone {
		return fmt.Errorf("action %s: FileOut actions return nothing", d.Name)
	}
	return nil
}
