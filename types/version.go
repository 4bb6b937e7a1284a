package types

// Version is the canonical project version.
// All components (server, CLI, event protocol) share this version
// per the lockstep versioning policy.
const Version = "0.3.0"
