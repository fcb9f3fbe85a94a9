package api

// Metadata keys written on mirrored entries. The provenance keys are the
// persisted contract that lets a dataset be re-opened after import: their
// values are stored verbatim and read back unchanged.
const (
	// KeySourceInternalPath is the exact internal slash path of the source
	// group or dataset, e.g. "/grp1/data1".
	KeySourceInternalPath = "sourceInternalPath"
	// KeySourceFilePath is the absolute path of the source file.
	KeySourceFilePath = "sourceFilePath"

	KeyShape    = "shape"
	KeyDType    = "dtype"
	KeyByteSize = "byteSize"
)
