package gateway

// Version is set at compile time via -ldflags.
var Version string

// Component identifies which part of registry-gateway is running (useful
// once more than one binary shares this package, e.g. a future CLI helper).
var Component = "registry-gateway"
