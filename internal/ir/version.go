package ir

// Version constants for the activity ledger schema and engine.
const (
	// IRVersion is the ledger/record schema version.
	IRVersion = "1"

	// EngineVersion is the flowsim engine version.
	EngineVersion = "0.1.0"
)
