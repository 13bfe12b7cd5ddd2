package types

// OutputFormat describes what kind of output a template produces.
type OutputFormat int

const (
	OutputFormatPage OutputFormat = iota
	OutputFormatSnippet
	OutputFormatGlobal
	OutputFormatBinary
)

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	switch f {
	case OutputFormatPage:
		return "page"
	case OutputFormatSnippet:
		return "snippet"
	case OutputFormatGlobal:
		return "global"
	case OutputFormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ActiveAssemblyType distinguishes templates whose output can carry
// active-assembly decoration from those that cannot.
type ActiveAssemblyType int

const (
	ActiveAssemblyNormal ActiveAssemblyType = iota
	ActiveAssemblyNonHTML
)

// String returns the string representation of the AA type.
func (t ActiveAssemblyType) String() string {
	switch t {
	case ActiveAssemblyNormal:
		return "normal"
	case ActiveAssemblyNonHTML:
		return "non-html"
	default:
		return "unknown"
	}
}

// Template is a presentation template. It is immutable for the
// duration of an assembly call; the resolver caches instances and all
// callers treat them as read-only.
type Template struct {
	ID   string
	Name string

	// Assembler is the identifier of the assembler implementation that
	// renders items bound to this template. Items are batched by this
	// key, not by template, so heterogeneous templates sharing one
	// assembler are processed in one call.
	Assembler string

	OutputFormat OutputFormat
	AAType       ActiveAssemblyType

	// Bindings are evaluated strictly in slice order; later bindings
	// may reference variables set by earlier ones.
	Bindings []Binding

	// SlotIDs are the slots associated with this template. The
	// resolver force-loads Slots before returning a template so
	// callers never trigger further repository round trips.
	SlotIDs []string
	Slots   []*Slot

	// ContentTypes lists the content types this template applies to,
	// used for lookup by (name, content type) pair.
	ContentTypes []string

	MimeType string
	Charset  string

	// Body is the raw template source.
	Body string
}

// AppliesTo reports whether the template is registered for the given
// content type. A template with no registered types applies to all.
func (t *Template) AppliesTo(contentType string) bool {
	if len(t.ContentTypes) == 0 {
		return true
	}
	for _, ct := range t.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// Binding is one ordered (variable, expression) pair on a template.
type Binding struct {
	Variable   string
	Expression string
	// Order is the stored evaluation index. Bindings are kept sorted
	// by it; evaluation honors slice order.
	Order int
}

// Slot is a named placeholder within a template, populated with
// related content items at assembly time.
type Slot struct {
	ID               string
	Name             string
	Finder           string
	RelationshipType string
}

// InlineType classifies an inline reference embedded in a content body.
type InlineType int

const (
	InlineTypeHyperlink InlineType = iota
	InlineTypeImage
	InlineTypeTemplate
)

// String returns the string representation of the inline type.
func (t InlineType) String() string {
	switch t {
	case InlineTypeHyperlink:
		return "hyperlink"
	case InlineTypeImage:
		return "image"
	case InlineTypeTemplate:
		return "template"
	default:
		return "unknown"
	}
}

// InlineLink is the transient descriptor built for one managed element
// while parsing a content body.
type InlineLink struct {
	DependentID         string
	DependentTemplateID string
	SiteID              string
	FolderID            string
	RelationshipID      string
	Type                InlineType

	// Overrides holds computed output attribute values that take
	// precedence over the source attributes.
	Overrides map[string]string

	Broken    bool
	NotPublic bool

	// ReplacementBody carries the assembled HTML for an
	// inline-template expansion.
	ReplacementBody string
}
