package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// StudyMeta is the study metadata declared by the client at init, before any
// file content has been seen.
type StudyMeta struct {
	PatientName      string `json:"patient_name"`
	StudyDate        string `json:"study_date"`
	Modality         string `json:"modality"`
	Age              string `json:"age,omitempty"`
	Gender           string `json:"gender,omitempty"`
	ServiceLevel     string `json:"service_level,omitempty"`
	StudyDescription string `json:"study_description,omitempty"`
}

// StudyInfo is the structural metadata extracted from a merged DICOM file.
type StudyInfo struct {
	StudyInstanceUID  string `json:"study_instance_uid,omitempty"`
	SeriesInstanceUID string `json:"series_instance_uid,omitempty"`
	SOPInstanceUID    string `json:"sop_instance_uid,omitempty"`
	SOPClassUID       string `json:"sop_class_uid,omitempty"`
	TransferSyntaxUID string `json:"transfer_syntax_uid,omitempty"`
	PatientID         string `json:"patient_id,omitempty"`
	Modality          string `json:"modality,omitempty"`
	StudyDate         string `json:"study_date,omitempty"`
	StudyDescription  string `json:"study_description,omitempty"`
}

// StudyRecord is a study hash recorded by the duplicate registry.
type StudyRecord struct {
	UploadID  string    `json:"upload_id"`
	Hash      string    `json:"study_hash"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportResponse describes whether a downstream report exists for a study.
type ReportResponse struct {
	StudyUID  string          `json:"study_uid"`
	Available bool            `json:"available"`
	Content   json.RawMessage `json:"content,omitempty"` // DICOM JSON
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Hash returns the proxy hash used for duplicate detection: the SHA-256 of the
// normalised patient name, study date and modality. Returns an empty string
// when none of those fields are set.
func (m StudyMeta) Hash() string {
	fields := []string{
		normaliseField(m.PatientName),
		normaliseField(m.StudyDate),
		normaliseField(m.Modality),
	}
	if strings.Join(fields, "") == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// WithDefaults returns a copy with the service level defaulted.
func (m StudyMeta) WithDefaults() StudyMeta {
	if strings.TrimSpace(m.ServiceLevel) == "" {
		m.ServiceLevel = DefaultServiceLevel
	}
	return m
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (m StudyMeta) String() string {
	return types.Stringify(m)
}

func (i StudyInfo) String() string {
	return types.Stringify(i)
}

func (r StudyRecord) String() string {
	return types.Stringify(r)
}

func (r ReportResponse) String() string {
	return types.Stringify(r)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func normaliseField(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}
