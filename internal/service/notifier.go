package service

// Message types pushed to connected users.
const (
	MsgMatched      = "matched"
	MsgSessionEnded = "session_ended"
	MsgPartnerLeft  = "partner_left"
)

// Notifier pushes events to a connected user (avoids import cycle with the
// WebSocket hub). Implementations must tolerate users without a connection.
type Notifier interface {
	Notify(userID string, msgType string, payload interface{})
}
