// Package dicom extracts structural metadata from DICOM Part-10 files. Pixel
// data is never read.
package dicom

import (
	"context"
	"fmt"
	"os"
	"strings"

	// Packages
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	dicom "github.com/suyashkumar/dicom"
	tag "github.com/suyashkumar/dicom/pkg/tag"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Validator accepts a file when its header parses and every required
// attribute has a value
type Validator struct {
	required []tag.Tag
}

type Opt func(*Validator) error

var _ relaypacs.Validator = (*Validator)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	maxMessage = 200
)

var (
	// Attributes a PACS needs to store an instance
	DefaultRequired = []tag.Tag{tag.StudyInstanceUID, tag.SOPInstanceUID}
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func New(opts ...Opt) (*Validator, error) {
	self := &Validator{required: DefaultRequired}
	for _, opt := range opts {
		if err := opt(self); err != nil {
			return nil, err
		}
	}
	return self, nil
}

// WithRequired replaces the set of attributes which must be present. With
// no arguments any parsable file is accepted.
func WithRequired(tags ...tag.Tag) Opt {
	return func(v *Validator) error {
		v.required = tags
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Validate parses the file header and returns its study metadata. Any
// failure wraps schema.ErrInvalidDicom.
func (v *Validator) Validate(ctx context.Context, path string) (*schema.StudyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err != nil {
		return nil, invalid(err)
	} else if !info.Mode().IsRegular() {
		return nil, invalid(fmt.Errorf("%q is not a regular file", info.Name()))
	} else if info.Size() == 0 {
		return nil, invalid(fmt.Errorf("%q is empty", info.Name()))
	}

	// Parse the header
	ds, err := parse(path)
	if err != nil {
		return nil, invalid(err)
	}

	// Check required attributes
	for _, t := range v.required {
		if value(ds, t) == "" {
			return nil, invalid(fmt.Errorf("missing attribute %v", t))
		}
	}

	// Return the metadata
	return &schema.StudyInfo{
		StudyInstanceUID:  value(ds, tag.StudyInstanceUID),
		SeriesInstanceUID: value(ds, tag.SeriesInstanceUID),
		SOPInstanceUID:    value(ds, tag.SOPInstanceUID),
		SOPClassUID:       value(ds, tag.SOPClassUID),
		TransferSyntaxUID: value(ds, tag.TransferSyntaxUID),
		PatientID:         value(ds, tag.PatientID),
		Modality:          value(ds, tag.Modality),
		StudyDate:         value(ds, tag.StudyDate),
		StudyDescription:  value(ds, tag.StudyDescription),
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// parse reads the dataset, converting a parser panic on malformed input into
// an error
func parse(path string) (ds dicom.Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse: %v", r)
		}
	}()
	return dicom.ParseFile(path, nil, dicom.SkipPixelData())
}

// value returns the first string value of an element, without padding
func value(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimRight(values[0], " \x00")
}

func invalid(err error) error {
	message := err.Error()
	if len(message) > maxMessage {
		message = message[:maxMessage] + "..."
	}
	return fmt.Errorf("%w: %s", schema.ErrInvalidDicom, message)
}
