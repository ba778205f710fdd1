package common

// Version is the engine version. Release builds override it with
// -ldflags "-X github.com/tempusdb/tempus/internal/common.Version=...".
var Version = "0.1.0"

// VersionString is the identification line printed by tooling.
var VersionString = "tempus v" + Version
