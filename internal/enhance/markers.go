package enhance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// ErrInvalidMarker is returned when a configured marker cannot be used as a CSS class.
var ErrInvalidMarker = errors.New("invalid marker")

// Markers is the class and attribute vocabulary shared with the site generator
// and with the browser-side tab and highlighter scripts.
type Markers struct {
	Highlight      string   `yaml:"highlight"`
	LineNumbers    string   `yaml:"lineNumbers"`
	BodyTables     []string `yaml:"bodyTables"`
	TableClasses   []string `yaml:"tableClasses"`
	TabGroup       string   `yaml:"tabGroup"`
	TabBarClasses  []string `yaml:"tabBarClasses"`
	TabPane        string   `yaml:"tabPane"`
	Active         string   `yaml:"active"`
	ToggleAttr     string   `yaml:"toggleAttr"`
	ToggleValue    string   `yaml:"toggleValue"`
	ExternalLink   string   `yaml:"externalLink"`
	ExternalTarget string   `yaml:"externalTarget"`
}

// DefaultMarkers returns the vocabulary emitted by Maven-style documentation skins.
func DefaultMarkers() Markers {
	return Markers{
		Highlight:      "prettyprint",
		LineNumbers:    "linenums",
		BodyTables:     []string{"bodyTable", "bodytable"},
		TableClasses:   []string{"table", "table-striped", "table-bordered"},
		TabGroup:       "tab-group",
		TabBarClasses:  []string{"nav", "nav-tabs"},
		TabPane:        "tab-pane",
		Active:         "active",
		ToggleAttr:     "data-toggle",
		ToggleValue:    "tab",
		ExternalLink:   "externalLink",
		ExternalTarget: "_blank",
	}
}

// matchers holds the selectors compiled from a Markers value.
type matchers struct {
	highlightBlocks   cascadia.Selector
	lineNumberBlocks  cascadia.Selector
	bodyTables        cascadia.Selector
	tabGroups         cascadia.Selector
	tabLists          cascadia.Selector
	tabPanes          cascadia.Selector
	externalLinks     cascadia.Selector
	highlightedBlocks cascadia.Selector
}

// Validate reports whether every marker can be used as a class selector.
func (m Markers) Validate() error {
	_, err := m.compile()
	return err
}

func (m Markers) compile() (*matchers, error) {
	singles := map[string]string{
		"highlight":    m.Highlight,
		"lineNumbers":  m.LineNumbers,
		"tabGroup":     m.TabGroup,
		"tabPane":      m.TabPane,
		"active":       m.Active,
		"externalLink": m.ExternalLink,
	}
	for name, class := range singles {
		if err := checkClass(name, class); err != nil {
			return nil, err
		}
	}
	if len(m.BodyTables) == 0 {
		return nil, fmt.Errorf("%w: bodyTables: at least one spelling is required", ErrInvalidMarker)
	}
	for _, group := range []struct {
		name    string
		classes []string
	}{
		{"bodyTables", m.BodyTables},
		{"tableClasses", m.TableClasses},
		{"tabBarClasses", m.TabBarClasses},
	} {
		for _, class := range group.classes {
			if err := checkClass(group.name, class); err != nil {
				return nil, err
			}
		}
	}
	if strings.TrimSpace(m.ToggleAttr) == "" {
		return nil, fmt.Errorf("%w: toggleAttr must not be empty", ErrInvalidMarker)
	}
	if strings.TrimSpace(m.ExternalTarget) == "" {
		return nil, fmt.Errorf("%w: externalTarget must not be empty", ErrInvalidMarker)
	}

	tables := make([]string, 0, len(m.BodyTables))
	for _, class := range m.BodyTables {
		tables = append(tables, "table."+class)
	}

	sel := &matchers{}
	for _, c := range []struct {
		dst *cascadia.Selector
		src string
	}{
		{&sel.highlightBlocks, "." + m.Highlight + " > pre"},
		{&sel.lineNumberBlocks, "." + m.LineNumbers + " > pre"},
		{&sel.bodyTables, strings.Join(tables, ", ")},
		{&sel.tabGroups, "." + m.TabGroup},
		{&sel.tabLists, "ul, ol"},
		{&sel.tabPanes, "." + m.TabPane},
		{&sel.externalLinks, "a." + m.ExternalLink},
		{&sel.highlightedBlocks, "pre." + m.Highlight},
	} {
		compiled, err := cascadia.Compile(c.src)
		if err != nil {
			return nil, fmt.Errorf("%w: compile %q: %v", ErrInvalidMarker, c.src, err)
		}
		*c.dst = compiled
	}
	return sel, nil
}

func checkClass(name, class string) error {
	if strings.TrimSpace(class) == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidMarker, name)
	}
	if strings.ContainsAny(class, " \t\r\n") {
		return fmt.Errorf("%w: %s %q contains whitespace", ErrInvalidMarker, name, class)
	}
	if _, err := cascadia.Compile("." + class); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidMarker, name, class, err)
	}
	return nil
}
