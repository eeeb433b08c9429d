package blip

// Conventional property names, kept as exported constants rather than
// magic strings at every call site.
const (
	PropProfile     = "Profile"
	PropErrorDomain = "Error-Domain"
	PropErrorCode   = "Error-Code"
)

// ErrorDomainBLIP is the error domain used for protocol-level errors the
// engine synthesizes itself (malformed request, no handler, panic),
// distinct from errors an application handler returns.
const ErrorDomainBLIP = "BLIP"

// Well-known replication profile names, matching the ones the host
// database engine's replicator protocol defines.
const (
	ProfileGetCheckpoint    = "getCheckpoint"
	ProfileSetCheckpoint    = "setCheckpoint"
	ProfileSubChanges       = "subChanges"
	ProfileChanges          = "changes"
	ProfileProposeChanges   = "proposeChanges"
	ProfileRev              = "rev"
	ProfileGetRev           = "getRev"
	ProfileGetAttachment    = "getAttachment"
	ProfileProveAttachment  = "proveAttachment"
)
