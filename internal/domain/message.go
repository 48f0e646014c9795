package domain

// FrameType tags one broadcast bus frame.
type FrameType string

const (
	// FrameLeaderQuery asks the current leader to identify itself.
	FrameLeaderQuery FrameType = "leader_query"
	// FrameLeaderHeartbeat is the leader's periodic liveness signal.
	FrameLeaderHeartbeat FrameType = "leader_heartbeat"
	// FrameScanForward carries a scan from a follower to the leader.
	FrameScanForward FrameType = "scan_forward"
	// FrameScanResult mirrors a processed scan's outcome to followers.
	FrameScanResult FrameType = "scan_result"
)

// Frame is one message on the broadcast bus. All frame types share one
// named channel, so unused members are simply zero.
type Frame struct {
	Type      FrameType    `json:"type"`
	SessionID string       `json:"session_id"`
	Timestamp int64        `json:"timestamp_ms"`
	ScanText  string       `json:"scan_text,omitempty"`
	Source    ScanSource   `json:"source,omitempty"`
	Outcome   *ScanOutcome `json:"outcome,omitempty"`
}
