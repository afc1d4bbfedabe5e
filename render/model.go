// Package render turns declarative UI trees pushed by extensions into typed
// view models and applies them to views under a last-submission-wins policy.
package render

// ViewKind names the variant of a Model.
type ViewKind string

const (
	KindList    ViewKind = "list"
	KindGrid    ViewKind = "grid"
	KindForm    ViewKind = "form"
	KindDetail  ViewKind = "detail"
	KindInvalid ViewKind = "invalid"
)

// Model is one of *ListModel, *GridModel, *FormModel, *DetailModel or
// *InvalidModel.
type Model interface {
	Kind() ViewKind
	Base() *Common
}

// Common holds the fields every model variant carries.
//
// Dirty=false means the content is identical to the model last applied to
// the same view; PropsDirty=false means the same for the search bar and
// other accessory props. Consumers skip repainting what is not dirty.
type Common struct {
	Dirty      bool
	PropsDirty bool

	NavigationTitle       string
	SearchText            *string // nil leaves the search bar uncontrolled
	SearchPlaceholderText string
	IsLoading             bool
	Filtering             bool
	Throttle              bool
	Actions               *ActionPanel

	// Handler ids registered by the extension, empty when absent.
	OnSearchTextChange string
	OnSelectionChange  string
}

// Base returns the shared fields.
func (c *Common) Base() *Common { return c }

// Shortcut is a keyboard shortcut bound to an action.
type Shortcut struct {
	Modifiers []string
	Key       string
}

// Action is one invocable entry of an action panel. HandlerID is the
// extension-side callback to invoke when the action runs.
type Action struct {
	HandlerID string
	Title     string
	Icon      string
	Style     string
	Shortcut  *Shortcut
	Submit    bool // form submit action; invoked with the form values
}

type ActionSection struct {
	Title   string
	Actions []Action
}

type ActionPanel struct {
	Title    string
	Sections []ActionSection
}

// Primary returns the first action of the panel, if any.
func (p *ActionPanel) Primary() (Action, bool) {
	if p == nil {
		return Action{}, false
	}
	for _, s := range p.Sections {
		if len(s.Actions) > 0 {
			return s.Actions[0], true
		}
	}
	return Action{}, false
}

// Find returns the action registered under handlerID.
func (p *ActionPanel) Find(handlerID string) (Action, bool) {
	if p == nil {
		return Action{}, false
	}
	for _, s := range p.Sections {
		for _, a := range s.Actions {
			if a.HandlerID == handlerID {
				return a, true
			}
		}
	}
	return Action{}, false
}

// Item is a leaf of a list or grid.
type Item struct {
	ID          string
	Title       string
	Subtitle    string
	Icon        string
	Content     string // grid cell image source
	Keywords    []string
	Accessories []string
	Actions     *ActionPanel
}

// Section groups items under an optional header. Items outside any section
// node are collected into an untitled section.
type Section struct {
	Title    string
	Subtitle string
	Items    []Item
}

type EmptyView struct {
	Title       string
	Description string
	Icon        string
}

type ListModel struct {
	Common
	Sections        []Section
	IsShowingDetail bool
	EmptyView       *EmptyView
}

func (*ListModel) Kind() ViewKind { return KindList }

// Items returns every item in display order.
func (m *ListModel) Items() []Item { return flatten(m.Sections) }

type GridModel struct {
	Common
	Sections  []Section
	Columns   int
	Inset     string
	EmptyView *EmptyView
}

func (*GridModel) Kind() ViewKind { return KindGrid }

// Items returns every item in display order.
func (m *GridModel) Items() []Item { return flatten(m.Sections) }

func flatten(sections []Section) []Item {
	var items []Item
	for _, s := range sections {
		items = append(items, s.Items...)
	}
	return items
}

// Form field types.
const (
	FieldText        = "text-field"
	FieldPassword    = "password-field"
	FieldTextArea    = "text-area"
	FieldCheckbox    = "checkbox"
	FieldDropdown    = "dropdown"
	FieldDatePicker  = "date-picker"
	FieldSeparator   = "separator"
	FieldDescription = "description"
)

type Option struct {
	Title string
	Value string
	Icon  string
}

type Field struct {
	ID          string
	Type        string
	Title       string
	Placeholder string
	Info        string
	Error       string
	Value       any
	Options     []Option
	OnChange    string
}

type FormModel struct {
	Common
	Fields []Field
}

func (*FormModel) Kind() ViewKind { return KindForm }

// Values returns the current field values keyed by field id.
func (m *FormModel) Values() map[string]any {
	values := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		if f.ID == "" || f.Type == FieldSeparator || f.Type == FieldDescription {
			continue
		}
		values[f.ID] = f.Value
	}
	return values
}

type MetadataEntry struct {
	Label string
	Text  string
	Icon  string
}

type DetailModel struct {
	Common
	Markdown string
	Metadata []MetadataEntry
}

func (*DetailModel) Kind() ViewKind { return KindDetail }

// InvalidModel stands in for a view node the parser does not understand.
type InvalidModel struct {
	Common
	NodeType string
	Reason   string
}

func (*InvalidModel) Kind() ViewKind { return KindInvalid }

// Placeholder is shown on a freshly pushed view until its first render.
func Placeholder() Model {
	return &ListModel{Common: Common{Dirty: true, PropsDirty: true, IsLoading: true, Filtering: true}}
}

// CrashModel is the single view left on a crashed session's stack.
func CrashModel(text string) Model {
	return &DetailModel{
		Common: Common{
			Dirty:           true,
			PropsDirty:      true,
			NavigationTitle: "Extension crashed",
		},
		Markdown: "# Extension crashed\n\n```\n" + text + "\n```\n",
	}
}

// Touch returns a shallow copy of m with both dirty flags set, for views
// that must repaint regardless of what was last parsed.
func Touch(m Model) Model {
	var cp Model
	switch v := m.(type) {
	case *ListModel:
		c := *v
		cp = &c
	case *GridModel:
		c := *v
		cp = &c
	case *FormModel:
		c := *v
		cp = &c
	case *DetailModel:
		c := *v
		cp = &c
	case *InvalidModel:
		c := *v
		cp = &c
	default:
		return m
	}
	cp.Base().Dirty, cp.Base().PropsDirty = true, true
	return cp
}
