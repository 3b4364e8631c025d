package protocol

// MCP protocol version.
const MCPVersion = "2024-11-05"

// MCP method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
)

// MCP notification methods.
const (
	MethodCancelled = "notifications/cancelled"
	MethodProgress  = "notifications/progress"
)
