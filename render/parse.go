package render

import (
	"context"

	"github.com/machinefabric/extbridge-go/bifaci"
)

// Node types understood by TreeParser.
const (
	NodeRoot = "root"

	NodeList          = "list"
	NodeListSection   = "list-section"
	NodeListItem      = "list-item"
	NodeListEmptyView = "list-empty-view"

	NodeGrid          = "grid"
	NodeGridSection   = "grid-section"
	NodeGridItem      = "grid-item"
	NodeGridEmptyView = "grid-empty-view"

	NodeForm            = "form"
	NodeDropdownItem    = "dropdown-item"
	NodeDropdownSection = "dropdown-section"

	NodeDetail         = "detail"
	NodeDetailMetadata = "detail-metadata"
	NodeMetadataLabel  = "metadata-label"

	NodeActionPanel        = "action-panel"
	NodeActionPanelSection = "action-panel-section"
	NodeAction             = "action"
)

var formFieldTypes = map[string]bool{
	FieldText:        true,
	FieldPassword:    true,
	FieldTextArea:    true,
	FieldCheckbox:    true,
	FieldDropdown:    true,
	FieldDatePicker:  true,
	FieldSeparator:   true,
	FieldDescription: true,
}

// Parser turns a render tree into one model per view. prev holds the models
// last applied to the same views and is used to compute dirty flags.
// Implementations must return ctx.Err() promptly once ctx is cancelled.
type Parser interface {
	Parse(ctx context.Context, root bifaci.RenderNode, prev []Model) ([]Model, error)
}

// TreeParser is the standard Parser.
type TreeParser struct{}

// Parse maps the children of root positionally to models. A root that is
// itself a view node yields a single model.
func (TreeParser) Parse(ctx context.Context, root bifaci.RenderNode, prev []Model) ([]Model, error) {
	views := root.Children
	if root.Type != NodeRoot && root.Type != "" {
		views = []bifaci.RenderNode{root}
	}

	models := make([]Model, 0, len(views))
	for i, node := range views {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := parseView(ctx, node)
		if err != nil {
			return nil, err
		}
		var before Model
		if i < len(prev) {
			before = prev[i]
		}
		markDirty(m, before)
		models = append(models, m)
	}
	return models, nil
}

func parseView(ctx context.Context, node bifaci.RenderNode) (Model, error) {
	switch node.Type {
	case NodeList:
		return parseList(ctx, node)
	case NodeGrid:
		return parseGrid(ctx, node)
	case NodeForm:
		return parseForm(node), nil
	case NodeDetail:
		return parseDetail(node), nil
	default:
		return &InvalidModel{NodeType: node.Type, Reason: "unsupported view type " + node.Type}, nil
	}
}

func parseCommon(p props) Common {
	onSearch := p.str("onSearchTextChange")
	return Common{
		NavigationTitle:       p.str("navigationTitle"),
		SearchText:            p.optStr("searchText"),
		SearchPlaceholderText: p.str("searchBarPlaceholder"),
		IsLoading:             p.boolean("isLoading", false),
		// An extension listening to the search text filters on its own
		// unless it asks otherwise.
		Filtering:          p.boolean("filtering", onSearch == ""),
		Throttle:           p.boolean("throttle", false),
		OnSearchTextChange: onSearch,
		OnSelectionChange:  p.str("onSelectionChange"),
	}
}

// collection holds the node type names of a list or grid.
type collection struct {
	section, item, empty string
}

var (
	listNodes = collection{section: NodeListSection, item: NodeListItem, empty: NodeListEmptyView}
	gridNodes = collection{section: NodeGridSection, item: NodeGridItem, empty: NodeGridEmptyView}
)

// parseSections collects items into sections, keeping top-level items in
// untitled sections at their position.
func parseSections(ctx context.Context, children []bifaci.RenderNode, names collection) (sections []Section, actions *ActionPanel, empty *EmptyView, err error) {
	loose := -1
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		switch c.Type {
		case names.section:
			p := props(c.Props)
			sec := Section{Title: p.str("title"), Subtitle: p.str("subtitle")}
			for _, ic := range c.Children {
				if ic.Type == names.item {
					sec.Items = append(sec.Items, parseItem(ic))
				}
			}
			sections = append(sections, sec)
		case names.item:
			if loose < 0 || loose != len(sections)-1 {
				sections = append(sections, Section{})
				loose = len(sections) - 1
			}
			sections[loose].Items = append(sections[loose].Items, parseItem(c))
		case names.empty:
			p := props(c.Props)
			empty = &EmptyView{Title: p.str("title"), Description: p.str("description"), Icon: p.icon("icon")}
		case NodeActionPanel:
			actions = parseActionPanel(c)
		}
	}
	return sections, actions, empty, nil
}

func parseList(ctx context.Context, node bifaci.RenderNode) (Model, error) {
	p := props(node.Props)
	sections, actions, empty, err := parseSections(ctx, node.Children, listNodes)
	if err != nil {
		return nil, err
	}
	m := &ListModel{
		Common:          parseCommon(p),
		Sections:        sections,
		IsShowingDetail: p.boolean("isShowingDetail", false),
		EmptyView:       empty,
	}
	m.Actions = actions
	return m, nil
}

func parseGrid(ctx context.Context, node bifaci.RenderNode) (Model, error) {
	p := props(node.Props)
	sections, actions, empty, err := parseSections(ctx, node.Children, gridNodes)
	if err != nil {
		return nil, err
	}
	m := &GridModel{
		Common:    parseCommon(p),
		Sections:  sections,
		Columns:   p.integer("columns"),
		Inset:     p.str("inset"),
		EmptyView: empty,
	}
	m.Actions = actions
	return m, nil
}

func parseItem(node bifaci.RenderNode) Item {
	p := props(node.Props)
	it := Item{
		ID:          p.str("id"),
		Title:       p.str("title"),
		Subtitle:    p.str("subtitle"),
		Icon:        p.icon("icon"),
		Content:     p.icon("content"),
		Keywords:    p.strings("keywords"),
		Accessories: p.accessories("accessories"),
	}
	for _, c := range node.Children {
		if c.Type == NodeActionPanel {
			it.Actions = parseActionPanel(c)
		}
	}
	return it
}

func parseActionPanel(node bifaci.RenderNode) *ActionPanel {
	panel := &ActionPanel{Title: props(node.Props).str("title")}
	loose := -1
	for _, c := range node.Children {
		switch c.Type {
		case NodeActionPanelSection:
			sec := ActionSection{Title: props(c.Props).str("title")}
			for _, ac := range c.Children {
				if ac.Type == NodeAction {
					sec.Actions = append(sec.Actions, parseAction(ac))
				}
			}
			panel.Sections = append(panel.Sections, sec)
		case NodeAction:
			if loose < 0 || loose != len(panel.Sections)-1 {
				panel.Sections = append(panel.Sections, ActionSection{})
				loose = len(panel.Sections) - 1
			}
			panel.Sections[loose].Actions = append(panel.Sections[loose].Actions, parseAction(c))
		}
	}
	return panel
}

func parseAction(node bifaci.RenderNode) Action {
	p := props(node.Props)
	a := Action{
		Title:    p.str("title"),
		Icon:     p.icon("icon"),
		Style:    p.str("style"),
		Shortcut: p.shortcut("shortcut"),
	}
	if id := p.str("onSubmit"); id != "" {
		a.HandlerID = id
		a.Submit = true
	} else {
		a.HandlerID = p.str("onAction")
	}
	return a
}

func parseForm(node bifaci.RenderNode) Model {
	m := &FormModel{Common: parseCommon(props(node.Props))}
	for _, c := range node.Children {
		switch {
		case c.Type == NodeActionPanel:
			m.Actions = parseActionPanel(c)
		case formFieldTypes[c.Type]:
			m.Fields = append(m.Fields, parseField(c))
		}
	}
	return m
}

func parseField(node bifaci.RenderNode) Field {
	p := props(node.Props)
	f := Field{
		ID:          p.str("id"),
		Type:        node.Type,
		Title:       p.str("title"),
		Placeholder: p.str("placeholder"),
		Info:        p.str("info"),
		Error:       p.str("error"),
		OnChange:    p.str("onChange"),
	}
	if v, ok := p["value"]; ok {
		f.Value = v
	} else {
		f.Value = p["defaultValue"]
	}
	if f.Type == FieldDescription && f.Value == nil {
		f.Value = p.str("text")
	}
	for _, c := range node.Children {
		switch c.Type {
		case NodeDropdownItem:
			f.Options = append(f.Options, parseOption(c))
		case NodeDropdownSection:
			for _, oc := range c.Children {
				if oc.Type == NodeDropdownItem {
					f.Options = append(f.Options, parseOption(oc))
				}
			}
		}
	}
	return f
}

func parseOption(node bifaci.RenderNode) Option {
	p := props(node.Props)
	return Option{Title: p.str("title"), Value: p.str("value"), Icon: p.icon("icon")}
}

func parseDetail(node bifaci.RenderNode) Model {
	p := props(node.Props)
	m := &DetailModel{Common: parseCommon(p), Markdown: p.str("markdown")}
	for _, c := range node.Children {
		switch c.Type {
		case NodeActionPanel:
			m.Actions = parseActionPanel(c)
		case NodeDetailMetadata:
			for _, mc := range c.Children {
				if mc.Type != NodeMetadataLabel {
					continue
				}
				mp := props(mc.Props)
				m.Metadata = append(m.Metadata, MetadataEntry{Label: mp.str("title"), Text: mp.str("text"), Icon: mp.icon("icon")})
			}
		}
	}
	return m
}
