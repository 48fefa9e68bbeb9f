// Package registry holds the per-domain fact registries extracted from
// Phoenix project source: routes, function components, Ecto schemas,
// LiveView event handlers, templates, and controller render calls.
//
// Every registry follows the same lifecycle: UpdateFile hashes the
// content and skips unchanged files, parses changed files completely
// outside the lock, then swaps the file's facts in a single critical
// section. Readers always see a file's facts entirely from one version.
// The line scanners are deliberately heuristic; a line that does not
// match a known construct contributes no facts and no errors.
package registry

// Verb is an HTTP verb on a route. The wildcard verb "*" comes from
// match :* routes and matches every verb.
type Verb string

const (
	VerbGet     Verb = "GET"
	VerbPost    Verb = "POST"
	VerbPut     Verb = "PUT"
	VerbPatch   Verb = "PATCH"
	VerbDelete  Verb = "DELETE"
	VerbOptions Verb = "OPTIONS"
	VerbHead    Verb = "HEAD"
	VerbAny     Verb = "*"
)

// RouteKind distinguishes plain HTTP routes from LiveView mounts and
// forwards.
type RouteKind string

const (
	RouteHTTP    RouteKind = "http"
	RouteLive    RouteKind = "live"
	RouteForward RouteKind = "forward"
)

// RouteFact is one concrete route. A resources macro expands into one
// fact per generated action; a multi-verb match expands into one fact
// per verb. All facts from one macro share the macro's source line.
type RouteFact struct {
	Verb       Verb      `json:"verb"`
	Path       string    `json:"path"`
	Controller string    `json:"controller"`
	Action     string    `json:"action,omitempty"`
	Helper     string    `json:"helper"`
	Kind       RouteKind `json:"kind"`
	Pipelines  []string  `json:"pipelines,omitempty"`
	File       string    `json:"file"`
	Line       int       `json:"line"`
}

// AttrFact is one attr declaration on a component or slot.
type AttrFact struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Default  string   `json:"default,omitempty"`
	Values   []string `json:"values,omitempty"`
	Doc      string   `json:"doc,omitempty"`
	Line     int      `json:"line"`
}

// SlotFact is one slot declaration on a component.
type SlotFact struct {
	Name     string     `json:"name"`
	Required bool       `json:"required,omitempty"`
	Doc      string     `json:"doc,omitempty"`
	Attrs    []AttrFact `json:"attrs,omitempty"`
	Line     int        `json:"line"`
}

// ComponentFact is one function component: the def line plus the attr
// and slot declarations accumulated above it. Multiple clauses of the
// same function collapse into one fact at the first clause.
type ComponentFact struct {
	Name   string     `json:"name"`
	Module string     `json:"module"`
	File   string     `json:"file"`
	Line   int        `json:"line"`
	Doc    string     `json:"doc,omitempty"`
	Attrs  []AttrFact `json:"attrs,omitempty"`
	Slots  []SlotFact `json:"slots,omitempty"`
}

// AssocKind is the association macro that declared an association.
type AssocKind string

const (
	AssocBelongsTo  AssocKind = "belongs_to"
	AssocHasOne     AssocKind = "has_one"
	AssocHasMany    AssocKind = "has_many"
	AssocEmbedsOne  AssocKind = "embeds_one"
	AssocEmbedsMany AssocKind = "embeds_many"
)

// Cardinality reports whether the association points at one record or
// many.
func (k AssocKind) Cardinality() string {
	switch k {
	case AssocHasMany, AssocEmbedsMany:
		return "many"
	default:
		return "one"
	}
}

// FieldFact is one field declaration in a schema block.
type FieldFact struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Line int    `json:"line"`
}

// AssociationFact is one association declaration. Target carries the
// resolved module name; resolution tries the literal name, the file's
// alias table, then the declaring module's namespace.
type AssociationFact struct {
	Kind   AssocKind `json:"kind"`
	Name   string    `json:"name"`
	Target string    `json:"target"`
	Line   int       `json:"line"`
}

// SchemaFact is one Ecto schema: table-backed or embedded.
type SchemaFact struct {
	Module       string            `json:"module"`
	Table        string            `json:"table,omitempty"`
	Embedded     bool              `json:"embedded,omitempty"`
	File         string            `json:"file"`
	Line         int               `json:"line"`
	Fields       []FieldFact       `json:"fields"`
	Associations []AssociationFact `json:"associations,omitempty"`
	Aliases      map[string]string `json:"-"`
}

// Field returns the named field, or nil.
func (s *SchemaFact) Field(name string) *FieldFact {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Association returns the named association, or nil.
func (s *SchemaFact) Association(name string) *AssociationFact {
	for i := range s.Associations {
		if s.Associations[i].Name == name {
			return &s.Associations[i]
		}
	}
	return nil
}

// EventKind distinguishes UI events (handle_event) from process
// messages (handle_info).
type EventKind string

const (
	EventUI      EventKind = "ui"
	EventMessage EventKind = "message"
)

// EventFact is one handler clause head. StartByte/EndByte span the head
// line so the full clause text can be fetched lazily from the source
// cache.
type EventFact struct {
	Kind      EventKind `json:"kind"`
	Name      string    `json:"name"`
	Module    string    `json:"module"`
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Params    string    `json:"params,omitempty"`
	Doc       string    `json:"doc,omitempty"`
	StartByte uint32    `json:"-"`
	EndByte   uint32    `json:"-"`
}

// TemplateFact is one template file with its conventional owner module
// suffix and the assigns it references.
type TemplateFact struct {
	Path         string   `json:"path"`
	Name         string   `json:"name"`
	Format       string   `json:"format"`
	ModuleSuffix string   `json:"module_suffix"`
	Assigns      []string `json:"assigns,omitempty"`
}

// RenderCallFact is one render(conn, ...) site in a controller action.
type RenderCallFact struct {
	Controller   string   `json:"controller"`
	Action       string   `json:"action"`
	Template     string   `json:"template"`
	Format       string   `json:"format,omitempty"`
	View         string   `json:"view,omitempty"`
	AssignKeys   []string `json:"assign_keys,omitempty"`
	File         string   `json:"file"`
	Line         int      `json:"line"`
	ResolvedPath string   `json:"resolved_path,omitempty"`
}

// Stats reports one registry's bookkeeping: how many files and facts it
// holds and how the hash gate has behaved.
type Stats struct {
	Files   int   `json:"files"`
	Facts   int   `json:"facts"`
	Updates int64 `json:"updates"`
	Skips   int64 `json:"skips"`
	Removes int64 `json:"removes"`
}
