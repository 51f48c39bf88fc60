package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Built-in Catalog Tests
// ============================================================================

// TestBuiltin_Completeness checks that every procedure constant resolves to
// a registered action and that the catalog has no gaps the constants miss.
func TestBuiltin_Completeness(t *testing.T) {
	procs := map[uint32]string{
		ProcPingDaemon: "ping_daemon", ProcSetVerbose: "set_verbose", ProcVersion: "version",
		ProcStat: "stat", ProcLstat: "lstat", ProcLstatList: "lstatlist", ProcStatVFS: "statvfs",
		ProcExists: "exists", ProcIsDir: "is_dir", ProcIsFile: "is_file", ProcFilesize: "filesize",
		ProcMkdir: "mkdir", ProcRm: "rm", ProcTouch: "touch", ProcLs: "ls", ProcReaddir: "readdir",
		ProcChmod: "chmod", ProcRename: "rename", ProcReadlink: "readlink", ProcLnS: "ln_s",
		ProcCat: "cat", ProcReadFile: "read_file", ProcWrite: "write", ProcWriteAppend: "write_append",
		ProcPread: "pread", ProcChecksum: "checksum",
		ProcUpload: "upload", ProcUploadOffset: "upload_offset",
		ProcDownload: "download", ProcDownloadOffset: "download_offset", ProcCompressOut: "compress_out",
		ProcListDevices: "list_devices", ProcListFilesystems: "list_filesystems",
		ProcBlockdevGetsize64: "blockdev_getsize64", ProcMkdtemp: "mkdtemp", ProcFind: "find",
	}

	reg := Builtin()
	assert.Equal(t, len(procs), reg.Len())

	for nr, name := range procs {
		d, ok := reg.ByProc(nr)
		require.True(t, ok, "proc %d (%s) not registered", nr, name)
		assert.Equal(t, name, d.Name)

		byName, ok := reg.Lookup(name)
		require.True(t, ok)
		assert.Same(t, d, byName)
	}
}

func TestBuiltin_AllSorted(t *testing.T) {
	all := Builtin().All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ProcNr, all[i].ProcNr)
	}
}

func TestBuiltin_TransferFlags(t *testing.T) {
	up := MustLookup("upload")
	assert.True(t, up.HasFileIn())
	assert.False(t, up.HasFileOut())
	assert.Equal(t, 0, up.FileIn())
	assert.True(t, up.Cancellable())
	assert.True(t, up.EmitsProgress())

	down := MustLookup("download")
	assert.Equal(t, 1, down.FileOut())
	assert.Equal(t, -1, down.FileIn())

	assert.True(t, MustLookup("set_verbose").ConfigOnly())
	assert.False(t, MustLookup("stat").ConfigOnly())
}

func TestOptArgIndex(t *testing.T) {
	d := MustLookup("mkdir")
	i, ok := d.OptArgIndex("parents")
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = d.OptArgIndex("recursive")
	assert.False(t, ok)
}

func TestMustLookupPanics(t *testing.T) {
	assert.Panics(t, func() { MustLookup("no_such_action") })
}

// ============================================================================
// Registration Validation Tests
// ============================================================================

func TestRegister_Rejects(t *testing.T) {
	many := make([]OptArgSpec, MaxOptArgs+1)
	for i := range many {
		many[i] = OptArgSpec{Name: "o" + string(rune('a'+i%26)) + string(rune('a'+i/26)), Kind: Bool}
	}

	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{"no name", Descriptor{ProcNr: 5}, "no name"},
		{"proc zero", Descriptor{Name: "x"}, "reserved"},
		{"too many optargs", Descriptor{Name: "x", ProcNr: 5, OptArgs: many}, "exceed"},
		{"duplicate arg", Descriptor{Name: "x", ProcNr: 5, Args: []ArgSpec{{"a", Int}, {"a", Int}}}, "duplicate"},
		{"unknown kind", Descriptor{Name: "x", ProcNr: 5, Args: []ArgSpec{{"a", ArgKind(99)}}}, "unknown kind"},
		{"two files in", Descriptor{Name: "x", ProcNr: 5, Args: []ArgSpec{{"a", FileIn}, {"b", FileIn}}}, "at most one"},
		{"in and out", Descriptor{Name: "x", ProcNr: 5, Args: []ArgSpec{{"a", FileIn}, {"b", FileOut}}}, "both"},
		{"path optarg", Descriptor{Name: "x", ProcNr: 5, OptArgs: []OptArgSpec{{"p", Pathname}}}, "cannot have kind"},
		{"struct without name", Descriptor{Name: "x", ProcNr: 5, Ret: RetSpec{Kind: RetStruct}}, "struct name"},
		{"fileout returns", Descriptor{Name: "x", ProcNr: 5, Args: []ArgSpec{{"f", FileOut}}, Ret: RetSpec{Kind: RetInt}}, "return nothing"},
		{"cancellable without file", Descriptor{Name: "x", ProcNr: 5, Flags: FlagCancellable}, "cancellable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tt.d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(Descriptor{Name: "a", ProcNr: 1})
	require.NoError(t, err)

	_, err = r.Register(Descriptor{Name: "a", ProcNr: 2})
	assert.ErrorContains(t, err, "already registered")

	_, err = r.Register(Descriptor{Name: "b", ProcNr: 1})
	assert.ErrorContains(t, err, "already used by a")
}

func TestRegister_CopiesSlices(t *testing.T) {
	args := []ArgSpec{{"path", Pathname}}
	r := NewRegistry()
	d := r.MustRegister(Descriptor{Name: "a", ProcNr: 1, Args: args})

	args[0].Name = "changed"
	assert.Equal(t, "path", d.Args[0].Name)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "Pathname", Pathname.String())
	assert.Equal(t, "ArgKind(99)", ArgKind(99).String())
	assert.Equal(t, "struct list", RetStructList.String())
	assert.True(t, Device.IsStringLike())
	assert.False(t, Buffer.IsStringLike())
	assert.False(t, FileOut.OnWire())
}
