package action

import "sync"

// Procedure numbers of the built-in actions. They are part of the wire
// protocol: never renumber an existing action.
const (
	ProcPingDaemon        uint32 = 1
	ProcSetVerbose        uint32 = 2
	ProcVersion           uint32 = 3
	ProcStat              uint32 = 10
	ProcLstat             uint32 = 11
	ProcLstatList         uint32 = 12
	ProcStatVFS           uint32 = 13
	ProcExists            uint32 = 14
	ProcIsDir             uint32 = 15
	ProcIsFile            uint32 = 16
	ProcFilesize          uint32 = 17
	ProcMkdir             uint32 = 20
	ProcRm                uint32 = 21
	ProcTouch             uint32 = 22
	ProcLs                uint32 = 23
	ProcReaddir           uint32 = 24
	ProcChmod             uint32 = 25
	ProcRename            uint32 = 26
	ProcReadlink          uint32 = 27
	ProcLnS               uint32 = 28
	ProcCat               uint32 = 30
	ProcReadFile          uint32 = 31
	ProcWrite             uint32 = 32
	ProcWriteAppend       uint32 = 33
	ProcPread             uint32 = 34
	ProcChecksum          uint32 = 35
	ProcUpload            uint32 = 40
	ProcUploadOffset      uint32 = 41
	ProcDownload          uint32 = 42
	ProcDownloadOffset    uint32 = 43
	ProcCompressOut       uint32 = 44
	ProcListDevices       uint32 = 50
	ProcListFilesystems   uint32 = 51
	ProcBlockdevGetsize64 uint32 = 52
	ProcMkdtemp           uint32 = 53
	ProcFind              uint32 = 54
)

const transfer = FlagCancellable | FlagProgress

var catalog = []Descriptor{
	{
		Name: "ping_daemon", ProcNr: ProcPingDaemon,
		Summary: "check that the daemon is responsive",
	},
	{
		Name: "set_verbose", ProcNr: ProcSetVerbose,
		Args:    []ArgSpec{{"verbose", Bool}},
		Flags:   FlagConfigOnly,
		Summary: "enable debug logging for this connection in the daemon",
	},
	{
		Name: "version", ProcNr: ProcVersion,
		Ret:     RetSpec{Kind: RetStruct, Struct: StructVersion},
		Summary: "get the daemon version",
	},

	// File information
	{
		Name: "stat", ProcNr: ProcStat,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetStruct, Struct: StructStat},
		Summary: "get file information, following symlinks",
	},
	{
		Name: "lstat", ProcNr: ProcLstat,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetStruct, Struct: StructStat},
		Summary: "get file information without following symlinks",
	},
	{
		Name: "lstatlist", ProcNr: ProcLstatList,
		Args:    []ArgSpec{{"path", Pathname}, {"names", StringList}},
		Ret:     RetSpec{Kind: RetStructList, Struct: StructStat},
		Summary: "lstat several names in one directory; missing entries have ino -1",
	},
	{
		Name: "statvfs", ProcNr: ProcStatVFS,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetStruct, Struct: StructStatVFS},
		Summary: "get filesystem statistics",
	},
	{
		Name: "exists", ProcNr: ProcExists,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetBool},
		Summary: "test if a file or directory exists",
	},
	{
		Name: "is_dir", ProcNr: ProcIsDir,
		Args:    []ArgSpec{{"path", Pathname}},
		OptArgs: []OptArgSpec{{"followsymlinks", Bool}},
		Ret:     RetSpec{Kind: RetBool},
		Summary: "test if a path is a directory",
	},
	{
		Name: "is_file", ProcNr: ProcIsFile,
		Args:    []ArgSpec{{"path", Pathname}},
		OptArgs: []OptArgSpec{{"followsymlinks", Bool}},
		Ret:     RetSpec{Kind: RetBool},
		Summary: "test if a path is a regular file",
	},
	{
		Name: "filesize", ProcNr: ProcFilesize,
		Args:    []ArgSpec{{"file", Pathname}},
		Ret:     RetSpec{Kind: RetInt64},
		Summary: "return the size of a file in bytes",
	},

	// Directory and namespace operations
	{
		Name: "mkdir", ProcNr: ProcMkdir,
		Args:    []ArgSpec{{"path", Pathname}},
		OptArgs: []OptArgSpec{{"mode", Int}, {"parents", Bool}},
		Summary: "create a directory",
	},
	{
		Name: "rm", ProcNr: ProcRm,
		Args:    []ArgSpec{{"path", Pathname}},
		OptArgs: []OptArgSpec{{"force", Bool}, {"recursive", Bool}},
		Summary: "remove a file or directory",
	},
	{
		Name: "touch", ProcNr: ProcTouch,
		Args:    []ArgSpec{{"path", Pathname}},
		Summary: "update file timestamps or create an empty file",
	},
	{
		Name: "ls", ProcNr: ProcLs,
		Args:    []ArgSpec{{"directory", Pathname}},
		Ret:     RetSpec{Kind: RetStringList},
		Summary: "list the files in a directory",
	},
	{
		Name: "readdir", ProcNr: ProcReaddir,
		Args:    []ArgSpec{{"dir", Pathname}},
		Ret:     RetSpec{Kind: RetStructList, Struct: StructDirent},
		Summary: "read directory entries with inode numbers and types",
	},
	{
		Name: "chmod", ProcNr: ProcChmod,
		Args:    []ArgSpec{{"mode", Int}, {"path", Pathname}},
		Summary: "change file mode",
	},
	{
		Name: "rename", ProcNr: ProcRename,
		Args:    []ArgSpec{{"oldpath", Pathname}, {"newpath", Pathname}},
		Summary: "rename a file on the same filesystem",
	},
	{
		Name: "readlink", ProcNr: ProcReadlink,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetString},
		Summary: "read the target of a symbolic link",
	},
	{
		Name: "ln_s", ProcNr: ProcLnS,
		Args:    []ArgSpec{{"target", String}, {"linkname", Pathname}},
		Summary: "create a symbolic link",
	},

	// Content
	{
		Name: "cat", ProcNr: ProcCat,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetString},
		Summary: "return the contents of a text file",
	},
	{
		Name: "read_file", ProcNr: ProcReadFile,
		Args:    []ArgSpec{{"path", Pathname}},
		Ret:     RetSpec{Kind: RetBuffer},
		Summary: "return the contents of a file as a buffer",
	},
	{
		Name: "write", ProcNr: ProcWrite,
		Args:    []ArgSpec{{"path", Pathname}, {"content", Buffer}},
		Summary: "create or replace a file with the given content",
	},
	{
		Name: "write_append", ProcNr: ProcWriteAppend,
		Args:    []ArgSpec{{"path", Pathname}, {"content", Buffer}},
		Summary: "append content to a file",
	},
	{
		Name: "pread", ProcNr: ProcPread,
		Args:    []ArgSpec{{"path", Pathname}, {"count", Int}, {"offset", Int64}},
		Ret:     RetSpec{Kind: RetBuffer},
		Summary: "read part of a file",
	},
	{
		Name: "checksum", ProcNr: ProcChecksum,
		Args:    []ArgSpec{{"csumtype", String}, {"path", Pathname}},
		Ret:     RetSpec{Kind: RetString},
		Summary: "compute a checksum of a file",
	},

	// File transfer
	{
		Name: "upload", ProcNr: ProcUpload,
		Args:    []ArgSpec{{"filename", FileIn}, {"remotefilename", Pathname}},
		Flags:   transfer,
		Summary: "upload a local stream to a file",
	},
	{
		Name: "upload_offset", ProcNr: ProcUploadOffset,
		Args:    []ArgSpec{{"filename", FileIn}, {"remotefilename", Pathname}, {"offset", Int64}},
		Flags:   transfer,
		Summary: "upload a local stream into a file at an offset",
	},
	{
		Name: "download", ProcNr: ProcDownload,
		Args:    []ArgSpec{{"remotefilename", DevOrPath}, {"filename", FileOut}},
		Flags:   transfer,
		Summary: "download a file or device to a local stream",
	},
	{
		Name: "download_offset", ProcNr: ProcDownloadOffset,
		Args:    []ArgSpec{{"remotefilename", DevOrPath}, {"filename", FileOut}, {"offset", Int64}, {"size", Int64}},
		Flags:   transfer,
		Summary: "download part of a file or device",
	},
	{
		Name: "compress_out", ProcNr: ProcCompressOut,
		Args:    []ArgSpec{{"ctype", String}, {"file", Pathname}, {"zfile", FileOut}},
		OptArgs: []OptArgSpec{{"level", Int}},
		Flags:   FlagCancellable,
		Summary: "download a file compressed with gzip or zstd",
	},

	// Devices
	{
		Name: "list_devices", ProcNr: ProcListDevices,
		Ret:     RetSpec{Kind: RetStringList},
		Summary: "list the block devices",
	},
	{
		Name: "list_filesystems", ProcNr: ProcListFilesystems,
		Ret:     RetSpec{Kind: RetHashtable},
		Summary: "map each device to its filesystem type",
	},
	{
		Name: "blockdev_getsize64", ProcNr: ProcBlockdevGetsize64,
		Args:    []ArgSpec{{"device", Device}},
		Ret:     RetSpec{Kind: RetInt64},
		Summary: "get the size of a device in bytes",
	},

	// Misc
	{
		Name: "mkdtemp", ProcNr: ProcMkdtemp,
		Args:    []ArgSpec{{"tmpl", Pathname}},
		Ret:     RetSpec{Kind: RetString},
		Summary: "create a temporary directory from a template ending in XXXXXX",
	},
	{
		Name: "find", ProcNr: ProcFind,
		Args:    []ArgSpec{{"directory", Pathname}, {"suffix", OptString}},
		Ret:     RetSpec{Kind: RetStringList},
		Summary: "list all entries below a directory, optionally filtered by suffix",
	},
}

var (
	builtinOnce sync.Once
	builtin     *Registry
)

// Builtin returns the registry of the actions this module implements.
func Builtin() *Registry {
	builtinOnce.Do(func() {
		r := NewRegistry()
		for _, d := range catalog {
			r.MustRegister(d)
		}
		builtin = r
	})
	return builtin
}

// MustLookup returns the named built-in action or panics. For use by code
// that names actions statically.
func MustLookup(name string) *Descriptor {
	d, ok := Builtin().Lookup(name)
	if !ok {
		panic("action: unknown built-in action " + name)
	}
	return d
}
