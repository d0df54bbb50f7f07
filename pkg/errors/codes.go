package errors

// Invocation error codes. Codes are stable across releases so callers can
// branch on them programmatically; names are exported for log/metric labels.
const (
	// Connection errors (1000-1099)
	CodeConnectionFailed  int = 1000 // Failed to establish a connection
	CodeConnectionLost    int = 1001 // Connection dropped mid-call
	CodeConnectionRefused int = 1002 // Backend refused the connection

	// Timeout errors (1100-1199)
	CodeCallTimeout    int = 1100 // Tool call exceeded its deadline
	CodeAcquireTimeout int = 1101 // Pool acquisition exceeded its wait bound

	// Circuit errors (1200-1299)
	CodeCircuitOpen int = 1200 // Breaker is open, call rejected without dialing

	// Pool errors (1300-1399)
	CodePoolExhausted    int = 1300 // No connection available within the wait bound
	CodeServerUnknown    int = 1301 // Server was never registered
	CodePoolShutdown     int = 1302 // Pool is shut down
	CodeEstablishFailure int = 1303 // Injected connector returned an error

	// Execution errors (1400-1499)
	CodeToolFailed    int = 1400 // Backend reported an application-level failure
	CodeToolTransient int = 1401 // Backend failure classified as transient

	// Validation errors (1500-1599)
	CodeInvalidArgument int = 1500 // Caller passed an invalid argument
)

// codeNames maps codes to their exported names for rendering.
var codeNames = map[int]string{
	CodeConnectionFailed:  "ConnectionFailed",
	CodeConnectionLost:    "ConnectionLost",
	CodeConnectionRefused: "ConnectionRefused",
	CodeCallTimeout:       "CallTimeout",
	CodeAcquireTimeout:    "AcquireTimeout",
	CodeCircuitOpen:       "CircuitOpen",
	CodePoolExhausted:     "PoolExhausted",
	CodeServerUnknown:     "ServerUnknown",
	CodePoolShutdown:      "PoolShutdown",
	CodeEstablishFailure:  "EstablishFailure",
	CodeToolFailed:        "ToolFailed",
	CodeToolTransient:     "ToolTransient",
	CodeInvalidArgument:   "InvalidArgument",
}

// CodeName returns the exported name for a code, or "Unknown".
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "Unknown"
}
