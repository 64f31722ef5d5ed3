package common

// Version information, overridden at build time via -ldflags
var (
	Version = "0.9.0"
	Build   = "dev"
)
