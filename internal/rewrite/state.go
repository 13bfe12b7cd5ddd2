// Package rewrite implements the inline reference rewriting engine: a
// streaming markup state machine that substitutes managed hyperlinks,
// images and inline-template expansions in a content body while
// preserving all surrounding markup byte for byte.
//
// The state machine is independent of any parser: it consumes
// start/end element events and can be driven from a scripted sequence
// in tests. The tokenizer driver in rewriter.go feeds it from
// golang.org/x/net/html.
package rewrite

// State is the per-open-element rendering state.
type State int

const (
	// StatePassthrough copies the element and its content verbatim.
	StatePassthrough State = iota
	// StateIgnore swallows the element and all its descendants, used
	// to suppress an element's original body after an inline-template
	// expansion has produced replacement content.
	StateIgnore
	// StateIgnoreToBody skips everything until a nested body element
	// is seen, used while re-parsing an inline-template's replacement
	// body, which is a full HTML document.
	StateIgnoreToBody
	// StateSkip drops exactly the current start/end tag pair but
	// passes its children through.
	StateSkip
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePassthrough:
		return "passthrough"
	case StateIgnore:
		return "ignore"
	case StateIgnoreToBody:
		return "ignore-to-body"
	case StateSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// renderable reports whether character data is forwarded in this state.
func (s State) renderable() bool {
	return s == StatePassthrough || s == StateSkip
}

type frame struct {
	name  string
	state State
}

// Machine is the explicit element-state stack. One frame is pushed per
// start tag and popped per matching end tag; the bottom frame
// represents the document and is never popped.
type Machine struct {
	stack []frame
}

// NewMachine creates a machine whose document frame passes everything
// through.
func NewMachine() *Machine {
	return NewFragmentMachine(StatePassthrough)
}

// NewFragmentMachine creates a machine with an explicit initial state,
// used when re-parsing an inline-template replacement body under
// StateIgnoreToBody.
func NewFragmentMachine(initial State) *Machine {
	return &Machine{stack: []frame{{name: "#document", state: initial}}}
}

// transition computes the state a new element inherits from its
// parent frame.
func transition(parent frame, name string) State {
	switch parent.state {
	case StatePassthrough, StateSkip:
		// Skip drops only the parent's own tags; children render.
		return StatePassthrough
	case StateIgnore:
		return StateIgnore
	case StateIgnoreToBody:
		if name == "body" {
			// The body's own tags are dropped, its children render.
			return StateSkip
		}
		return StateIgnoreToBody
	default:
		return StateIgnore
	}
}

// PushStart pushes a frame for a start tag and returns its state.
func (m *Machine) PushStart(name string) State {
	s := transition(m.top(), name)
	m.stack = append(m.stack, frame{name: name, state: s})
	return s
}

// SetCurrent overrides the state of the innermost open element, used
// when classification decides the element must be suppressed.
func (m *Machine) SetCurrent(s State) {
	if len(m.stack) > 1 {
		m.stack[len(m.stack)-1].state = s
	}
}

// PopEnd pops the innermost element frame, returning its state. It
// refuses to pop the document frame, reporting false for unbalanced
// input.
func (m *Machine) PopEnd() (State, bool) {
	if len(m.stack) <= 1 {
		return StatePassthrough, false
	}
	s := m.stack[len(m.stack)-1].state
	m.stack = m.stack[:len(m.stack)-1]
	return s, true
}

// Depth returns the number of open elements, excluding the document
// frame. A well-formed document always returns the machine to depth 0.
func (m *Machine) Depth() int {
	return len(m.stack) - 1
}

// Current returns the innermost state.
func (m *Machine) Current() State {
	return m.top().state
}

// Renderable reports whether character data, comments and processing
// instructions are forwarded at the current position.
func (m *Machine) Renderable() bool {
	return m.top().state.renderable()
}

func (m *Machine) top() frame {
	return m.stack[len(m.stack)-1]
}
