package render

// SelectionPolicy says what a view does with its selection when a new model
// is applied.
type SelectionPolicy int

const (
	// PreserveSelection keeps the selected item if it still exists.
	PreserveSelection SelectionPolicy = iota
	// SelectFirst moves the selection to the first item.
	SelectFirst
)

func (p SelectionPolicy) String() string {
	if p == SelectFirst {
		return "select-first"
	}
	return "preserve-selection"
}

// ViewHandle is one view on the host's navigation stack.
type ViewHandle interface {
	// Render applies a model. Implementations skip work for subtrees whose
	// Dirty or PropsDirty flag is false.
	Render(model Model, policy SelectionPolicy)
}

// Sink is the host UI that paints views. It is owned by the embedding
// application; the bridge only pushes, pops and renders.
//
// Calls for one session are serialized. A Sink shared by several sessions
// must be safe for concurrent use.
type Sink interface {
	PushView() ViewHandle
	PopView()
}
