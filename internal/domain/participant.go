package domain

// Participant is a room-scoped member of a joined session. It only exists
// while the room connection is up.
type Participant struct {
	Identity          string `json:"identity"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	MicrophoneEnabled bool   `json:"microphone_enabled"`
	CameraEnabled     bool   `json:"camera_enabled"`
	Speaking          bool   `json:"speaking"`
	Local             bool   `json:"local"`
}
