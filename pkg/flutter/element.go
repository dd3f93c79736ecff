package flutter

import (
	"errors"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
)

// Element is a widget handle. It holds the finder, not a resolved reference,
// so it stays valid across rebuilds of the widget tree.
type Element struct {
	session *Session
	finder  finder.Finder
}

// ID returns the W3C element id (the serialized finder).
func (e *Element) ID() string {
	return e.finder.String()
}

// Finder returns the finder this element was built from.
func (e *Element) Finder() finder.Finder {
	return e.finder
}

// Text returns the widget's displayed text.
func (e *Element) Text() (string, error) {
	text, err := e.session.remote.GetElementText(e.ID())
	return text, e.annotate(err)
}

// Attribute returns a driver-reported attribute of the widget.
func (e *Element) Attribute(name string) (string, error) {
	value, err := e.session.remote.GetElementAttribute(e.ID(), name)
	return value, e.annotate(err)
}

// Click taps the widget.
func (e *Element) Click() error {
	return e.annotate(e.session.remote.ClickElement(e.ID()))
}

// SendKeys enters text into the widget.
func (e *Element) SendKeys(text string) error {
	return e.annotate(e.session.remote.SetElementValue(e.ID(), text))
}

// Clear clears the widget's text.
func (e *Element) Clear() error {
	return e.annotate(e.session.remote.ClearElement(e.ID()))
}

// annotate attaches the finder description to execution errors.
func (e *Element) annotate(err error) error {
	if err == nil {
		return nil
	}
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.WithDetails(map[string]interface{}{"finder": e.finder.Describe()})
	}
	return err
}
