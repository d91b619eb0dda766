package docmap

import (
	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/internal/validate"
	"github.com/devrev/docmap/tracking"
)

// PropertyEntry is the Entry Handle spec §4.H describes for a scalar or
// complex property: typed currentValue get/set.
type PropertyEntry struct {
	entry        *tracking.Entry
	propertyName string
	validator    *validate.Validator
}

// Property builds the Property Entry Handle for entry's propertyName
// scalar or complex property.
func (c *Context) Property(entry *tracking.Entry, propertyName string) *PropertyEntry {
	return &PropertyEntry{entry: entry, propertyName: propertyName, validator: c.validator}
}

// CurrentValue returns the property's current value.
func (p *PropertyEntry) CurrentValue() any {
	doc := p.entry.Document()
	if doc == nil {
		return nil
	}
	return doc.Property(p.propertyName)
}

// SetCurrentValue writes the property through the document's controlled
// setter, which routes the change event into the State Manager the same
// way a direct typed setter on the document would.
func (p *PropertyEntry) SetCurrentValue(value any) error {
	if err := p.validator.ValidatePropertyName(p.propertyName); err != nil {
		return err
	}
	doc := p.entry.Document()
	if doc == nil {
		return dberr.InvalidState("cannot set a property on a reclaimed document")
	}
	doc.SetProperty(p.propertyName, value)
	return nil
}
