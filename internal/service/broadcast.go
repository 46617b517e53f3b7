package service

// Battle event types sent to subscribers.
const (
	EventRoundCompleted = "round_completed"
	EventBattleFinished = "battle_finished"
	EventBattleFailed   = "battle_failed"
)

// Broadcaster sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastBattleEvent(battleID string, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastBattleEvent(string, string, any) {}
