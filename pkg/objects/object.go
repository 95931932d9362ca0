package objects

// Object is implemented by every value a Store manages. Handle must return
// the identity the constructor was given.
type Object interface {
	Handle() Handle
}

// Base carries an object's identity and is meant to be embedded.
type Base struct {
	self Handle
}

// NewBase returns a Base for the identity passed to a constructor.
func NewBase(self Handle) Base {
	return Base{self: self}
}

// Handle implements Object.
func (b Base) Handle() Handle { return b.self }

// ID returns the object's per-type ID.
func (b Base) ID() uint32 { return b.self.id }

// Created is implemented by objects that want a callback after Store.Create
// inserted them.
type Created interface {
	OnCreated()
}

// Loaded is implemented by objects that want a callback once a whole
// deserialized batch exists, so references to later objects of the batch
// already resolve.
type Loaded interface {
	OnLoaded()
}

// TemplateTarget is implemented by objects created from a named template.
// SetupFromTemplate runs after the template's properties were assigned.
type TemplateTarget interface {
	Object
	SetupFromTemplate(name string, values map[string]any)
}
