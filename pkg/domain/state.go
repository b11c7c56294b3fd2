package domain

// StateKind names the moderation lifecycle state of a profile row.
type StateKind string

const (
	// StateCanonical is the single publicly-referenceable row for an owner.
	StateCanonical StateKind = "canonical"
	// StateDraftNew is a first-time submission awaiting initial acceptance.
	StateDraftNew StateKind = "draft_new"
	// StateDraftRevision is a pending edit to a published canonical profile.
	StateDraftRevision StateKind = "draft_revision"
)

// State is the explicit tagged variant behind the persisted two-flag encoding
// (IsDraft + OriginalProfileID). Published is meaningful only for canonical
// rows; OriginalID only for revision drafts.
type State struct {
	Kind       StateKind
	Published  bool
	OriginalID string
}

// StateOf interprets the persisted flags of a profile row.
func StateOf(p Profile) State {
	switch {
	case p.IsDraft && p.OriginalProfileID != "":
		return State{Kind: StateDraftRevision, OriginalID: p.OriginalProfileID}
	case p.IsDraft:
		return State{Kind: StateDraftNew}
	default:
		return State{Kind: StateCanonical, Published: p.Published}
	}
}

// Apply writes the state back onto the two-flag representation.
func (s State) Apply(p *Profile) {
	switch s.Kind {
	case StateDraftRevision:
		p.IsDraft = true
		p.OriginalProfileID = s.OriginalID
		p.Published = false
	case StateDraftNew:
		p.IsDraft = true
		p.OriginalProfileID = ""
		p.Published = false
	default:
		p.IsDraft = false
		p.OriginalProfileID = ""
		p.Published = s.Published
	}
}

// IsDraftState reports whether the state is one of the two draft kinds.
func (s State) IsDraftState() bool {
	return s.Kind == StateDraftNew || s.Kind == StateDraftRevision
}

// PubliclyVisible reports whether the row may be shown to anonymous visitors.
// A draft's published flag is irrelevant to visibility.
func (s State) PubliclyVisible() bool {
	return s.Kind == StateCanonical && s.Published
}
