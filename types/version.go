package types

// Version is the canonical project version.
// All components (CLI, report schema, heartbeat schema) share this version
// per the lockstep versioning policy.
const Version = "0.3.0"
