// Package dicomtest builds minimal DICOM Part-10 instances for tests
package dicomtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Instance describes the attributes written into a test file
type Instance struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	SOPClassUID       string
	PatientID         string
	Modality          string
	StudyDate         string
	StudyDescription  string
}

type element struct {
	group, elem uint16
	vr          string
	value       []byte
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	SecondaryCapture       = "1.2.840.10008.5.1.4.1.1.7"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// New returns an instance with every attribute set, derived from the suffix
func New(suffix string) Instance {
	return Instance{
		StudyInstanceUID:  "1.2.826.0.1.3680043.8.498.1." + suffix,
		SeriesInstanceUID: "1.2.826.0.1.3680043.8.498.2." + suffix,
		SOPInstanceUID:    "1.2.826.0.1.3680043.8.498.3." + suffix,
		SOPClassUID:       SecondaryCapture,
		PatientID:         "PID" + suffix,
		Modality:          "CT",
		StudyDate:         "20240101",
		StudyDescription:  "CHEST",
	}
}

// Bytes encodes the instance as explicit VR little endian, with no pixel data
func (i Instance) Bytes() []byte {
	var buf bytes.Buffer

	// Preamble and magic
	buf.Write(make([]byte, 128))
	buf.WriteString("DICM")

	// File meta group, prefixed by its length
	var meta bytes.Buffer
	for _, e := range []element{
		{0x0002, 0x0001, "OB", []byte{0x00, 0x01}},
		{0x0002, 0x0002, "UI", []byte(i.SOPClassUID)},
		{0x0002, 0x0003, "UI", []byte(i.SOPInstanceUID)},
		{0x0002, 0x0010, "UI", []byte(ExplicitVRLittleEndian)},
	} {
		e.write(&meta)
	}
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(meta.Len()))
	element{0x0002, 0x0000, "UL", length}.write(&buf)
	buf.Write(meta.Bytes())

	// Dataset, in tag order, skipping empty attributes
	for _, e := range []element{
		{0x0008, 0x0016, "UI", []byte(i.SOPClassUID)},
		{0x0008, 0x0018, "UI", []byte(i.SOPInstanceUID)},
		{0x0008, 0x0020, "DA", []byte(i.StudyDate)},
		{0x0008, 0x0060, "CS", []byte(i.Modality)},
		{0x0008, 0x1030, "LO", []byte(i.StudyDescription)},
		{0x0010, 0x0020, "LO", []byte(i.PatientID)},
		{0x0020, 0x000D, "UI", []byte(i.StudyInstanceUID)},
		{0x0020, 0x000E, "UI", []byte(i.SeriesInstanceUID)},
	} {
		if len(e.value) > 0 {
			e.write(&buf)
		}
	}

	return buf.Bytes()
}

// WriteFile writes the instance into dir and returns its path
func (i Instance) WriteFile(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, i.Bytes(), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (e element) write(buf *bytes.Buffer) {
	value := e.value
	if len(value)%2 == 1 {
		if e.vr == "UI" || e.vr == "OB" {
			value = append(append([]byte{}, value...), 0x00)
		} else {
			value = append(append([]byte{}, value...), ' ')
		}
	}
	binary.Write(buf, binary.LittleEndian, e.group)
	binary.Write(buf, binary.LittleEndian, e.elem)
	buf.WriteString(e.vr)
	switch e.vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		buf.Write([]byte{0, 0})
		binary.Write(buf, binary.LittleEndian, uint32(len(value)))
	default:
		binary.Write(buf, binary.LittleEndian, uint16(len(value)))
	}
	buf.Write(value)
}
