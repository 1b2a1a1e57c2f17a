package session

// State is the lifecycle state of a Session. Stopped and Failed are
// terminal until Start is called again; nothing in this package retries or
// reconnects on its own.
type State int

const (
	StateIdle State = iota
	StateLoadingPipeline
	StateFetchingIceServers
	StateNegotiating
	StateStreaming
	StateDisconnected
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingPipeline:
		return "loading_pipeline"
	case StateFetchingIceServers:
		return "fetching_ice_servers"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
