package research

// Phase is the controller's lifecycle state. The two public flags are
// projections of it, so combinations like "researching and complete" cannot occur.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResearching
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseResearching:
		return "researching"
	case PhaseCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Flags is the externally visible form of Phase.
type Flags struct {
	IsResearching    bool `json:"isResearching"`
	ResearchComplete bool `json:"researchComplete"`
}

func (p Phase) Flags() Flags {
	return Flags{
		IsResearching:    p == PhaseResearching,
		ResearchComplete: p == PhaseCompleted,
	}
}
