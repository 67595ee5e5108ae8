package ir

// Version constants for the journal schema and engine.
const (
	// JournalVersion is the version of the canonical update encoding stored
	// in the transaction journal.
	JournalVersion = "1"

	// EngineVersion is the tablesync engine version.
	EngineVersion = "0.1.0"
)
