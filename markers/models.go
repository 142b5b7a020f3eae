package markers

import (
	"regexp"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
)

// Marker is a persisted travel entry. The ID is assigned by the remote
// store on creation; an empty ID means the marker has not been persisted
// and must never enter the canonical set. Coordinates come from the
// originating map click and are immutable afterwards.
type Marker struct {
	ID        string  `json:"id,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Header    string  `json:"header"`
	Date      string  `json:"date"`
	Location  string  `json:"location"`
	Paragraph string  `json:"paragraph"`
	Image     string  `json:"image,omitempty"`
}

// Coords is a clicked map position.
type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Draft is the form's working copy of a marker being created or edited.
// Unlike Marker it may be invalid at any time; it is promoted to a Marker
// only on submit, after Validate passes and the store confirms.
type Draft struct {
	Header    string `json:"header" valid:"required"`
	Date      string `json:"date" valid:"required"`
	Location  string `json:"location" valid:"required"`
	Paragraph string `json:"paragraph" valid:"required"`
	Image     string `json:"image,omitempty" valid:"-"`
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidationError is a draft rejected before any network call.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

func (d Draft) Validate() error {
	if _, err := govalidator.ValidateStruct(d); err != nil {
		return &ValidationError{err: err}
	}
	if !dateRe.MatchString(d.Date) {
		return &ValidationError{err: errors.Errorf("date %q is not in YYYY-MM-DD format", d.Date)}
	}
	return nil
}

// Marker promotes the draft to a marker at the given position. The ID is
// left empty, to be filled in by the store.
func (d Draft) Marker(at Coords) Marker {
	return Marker{
		Lat:       at.Lat,
		Lng:       at.Lng,
		Header:    d.Header,
		Date:      d.Date,
		Location:  d.Location,
		Paragraph: d.Paragraph,
		Image:     d.Image,
	}
}

// DraftOf loads a marker's current data into a draft for editing.
func DraftOf(m Marker) Draft {
	return Draft{
		Header:    m.Header,
		Date:      m.Date,
		Location:  m.Location,
		Paragraph: m.Paragraph,
		Image:     m.Image,
	}
}
