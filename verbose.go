package dlink

import "github.com/xyproto/env/v2"

// Verbose toggles extra diagnostic logging in the CLI, settable directly
// or via the DLINK_VERBOSE environment variable. Library code ignores it:
// its Error-level log on the fatal lazy-resolution path always fires, and
// its Debug-level logs (map parsed, constructor skipped for lack of a
// FuncCaller) depend only on the configured slog.Logger's level.
var Verbose = env.Bool("DLINK_VERBOSE")
