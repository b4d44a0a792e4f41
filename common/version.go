package common

// PackageName is used to namespace metrics for all services in this module.
const PackageName = "custodian_auth"

// Version is set at build time via -ldflags.
var Version = "dev"
