package dicom_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	// Packages
	dicom "github.com/mutablelogic/go-relaypacs/pkg/dicom"
	dicomtest "github.com/mutablelogic/go-relaypacs/pkg/dicom/dicomtest"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func Test_Dicom_Valid(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	v, err := dicom.New()
	require.NoError(err)

	instance := dicomtest.New("7")
	path, err := instance.WriteFile(t.TempDir(), "a.dcm")
	require.NoError(err)

	info, err := v.Validate(context.Background(), path)
	require.NoError(err)
	assert.Equal(instance.StudyInstanceUID, info.StudyInstanceUID)
	assert.Equal(instance.SeriesInstanceUID, info.SeriesInstanceUID)
	assert.Equal(instance.SOPInstanceUID, info.SOPInstanceUID)
	assert.Equal(instance.SOPClassUID, info.SOPClassUID)
	assert.Equal(dicomtest.ExplicitVRLittleEndian, info.TransferSyntaxUID)
	assert.Equal("PID7", info.PatientID)
	assert.Equal("CT", info.Modality)
	assert.Equal("20240101", info.StudyDate)
	assert.Equal("CHEST", info.StudyDescription)
}

func Test_Dicom_Invalid(t *testing.T) {
	v, err := dicom.New()
	require.NoError(t, err)
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	tests := map[string]string{
		"Missing":   filepath.Join(dir, "missing.dcm"),
		"Directory": dir,
		"Empty":     write("empty.dcm", nil),
		"Text":      write("text.dcm", []byte(strings.Repeat("this is not a dicom file\n", 20))),
		"Truncated": write("truncated.dcm", dicomtest.New("1").Bytes()[:140]),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), path)
			assert.ErrorIs(t, err, schema.ErrInvalidDicom)
			assert.LessOrEqual(t, len(err.Error()), 250)
		})
	}
}

func Test_Dicom_Required(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	instance := dicomtest.New("9")
	instance.StudyInstanceUID = ""
	path, err := instance.WriteFile(t.TempDir(), "nostudy.dcm")
	require.NoError(err)

	v, err := dicom.New()
	require.NoError(err)
	_, err = v.Validate(context.Background(), path)
	assert.ErrorIs(err, schema.ErrInvalidDicom)

	// Without requirements the file is accepted
	v, err = dicom.New(dicom.WithRequired())
	require.NoError(err)
	info, err := v.Validate(context.Background(), path)
	require.NoError(err)
	assert.Empty(info.StudyInstanceUID)
	assert.Equal(instance.SOPInstanceUID, info.SOPInstanceUID)
}
