package participant

type state string

const (
	stateCreated    state = "created"
	stateRecording  state = "recording"
	stateFinalizing state = "finalizing"
	stateDone       state = "done"
)
