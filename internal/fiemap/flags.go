package fiemap

// ExtentFlags are the FIEMAP_EXTENT_* bits reported per-extent by the
// kernel in fiemap_extent.fe_flags.
type ExtentFlags uint32

const (
	// FlagLast marks the last extent in the file.
	FlagLast ExtentFlags = 0x00000001
	// FlagUnknown marks a data location the kernel cannot resolve.
	FlagUnknown ExtentFlags = 0x00000002
	// FlagDelalloc marks a location still pending allocation. Implies FlagUnknown.
	FlagDelalloc ExtentFlags = 0x00000004
	// FlagEncoded marks data that cannot be read while the filesystem is unmounted.
	FlagEncoded ExtentFlags = 0x00000008
	// FlagDataEncrypted marks data encrypted by the filesystem.
	FlagDataEncrypted ExtentFlags = 0x00000080
	// FlagNotAligned marks an extent whose offsets may not be block aligned.
	FlagNotAligned ExtentFlags = 0x00000100
	// FlagDataInline marks data mixed with metadata. Implies FlagNotAligned.
	FlagDataInline ExtentFlags = 0x00000200
	// FlagDataTail marks multiple files packed into one block. Implies FlagNotAligned.
	FlagDataTail ExtentFlags = 0x00000400
	// FlagUnwritten marks space allocated but not yet written (reads as zero).
	FlagUnwritten ExtentFlags = 0x00000800
	// FlagMerged marks a result merged for efficiency on a filesystem without native extents.
	FlagMerged ExtentFlags = 0x00001000
	// FlagShared marks space shared with other files (reflinked or deduped).
	FlagShared ExtentFlags = 0x00002000
)

// requestFlags are the FIEMAP_FLAG_* bits passed in on the request.
const (
	reqFlagSync  uint32 = 0x00000001
	reqFlagXattr uint32 = 0x00000002
)
