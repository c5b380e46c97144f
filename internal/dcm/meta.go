package dcm

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrInvalidFileMeta indicates a file meta group missing mandatory
// elements. Nothing is written when validation fails.
var ErrInvalidFileMeta = errors.New("invalid file meta information")

// FileMeta describes the File Meta Information group of one output
// file. The media storage SOP class is fixed to whole slide microscopy.
type FileMeta struct {
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	SourceApplicationEntity    string
}

// Validate checks that mandatory file meta elements are present.
func (m *FileMeta) Validate() error {
	if m.MediaStorageSOPInstanceUID == "" {
		return fmt.Errorf("%w: missing media storage SOP instance UID", ErrInvalidFileMeta)
	}
	if m.TransferSyntaxUID == "" {
		return fmt.Errorf("%w: missing transfer syntax UID", ErrInvalidFileMeta)
	}
	return nil
}

// Encode validates and serializes the group, group length element
// included. File meta is always explicit VR little endian.
func (m *FileMeta) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	body := &Dataset{}
	body.Add(MustNewElement(tag.FileMetaInformationVersion, []byte{0x00, 0x01}))
	body.MustSet(tag.MediaStorageSOPClassUID, VLWholeSlideMicroscopyImageStorage)
	body.MustSet(tag.MediaStorageSOPInstanceUID, m.MediaStorageSOPInstanceUID)
	body.MustSet(tag.TransferSyntaxUID, m.TransferSyntaxUID)
	body.MustSet(tag.ImplementationClassUID, ImplementationClassUID)
	body.MustSet(tag.ImplementationVersionName, ImplementationVersionName)
	if m.SourceApplicationEntity != "" {
		body.MustSet(tag.SourceApplicationEntityTitle, m.SourceApplicationEntity)
	}

	encoded, err := body.Encode(true)
	if err != nil {
		return nil, err
	}

	group := &Dataset{}
	group.MustSet(tag.FileMetaInformationGroupLength, len(encoded))
	header, err := group.Encode(true)
	if err != nil {
		return nil, err
	}
	return append(header, encoded...), nil
}
