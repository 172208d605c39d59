package archive

import (
	"fmt"
	"strconv"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// EntityIndex is the index record of one archived item
type EntityIndex struct {
	Path      string
	FileType  domain.FileType
	Encrypted bool

	// Content is nil for directories and required otherwise
	Content  *BoundaryRange
	Metadata BoundaryRange
}

// Validate checks the content presence rule for the declared type
func (e EntityIndex) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("%w: entity path is empty", domain.ErrIntegrity)
	}
	if !e.FileType.IsValid() {
		return fmt.Errorf("%w: entity %s has unknown type %q", domain.ErrIntegrity, e.Path, e.FileType)
	}
	if e.FileType == domain.FileTypeDirectory && e.Content != nil {
		return fmt.Errorf("%w: directory entity %s has a content boundary", domain.ErrIntegrity, e.Path)
	}
	if e.FileType != domain.FileTypeDirectory && e.Content == nil {
		return fmt.Errorf("%w: %s entity %s has no content boundary", domain.ErrIntegrity, e.FileType, e.Path)
	}
	return nil
}

func (e EntityIndex) writeProperties(prefix string, pw *propertyWriter) {
	pw.put(prefix+".path", e.Path)
	pw.put(prefix+".type", string(e.FileType))
	pw.put(prefix+".encrypt", strconv.FormatBool(e.Encrypted))
	if e.Content != nil {
		e.Content.writeProperties(prefix+".content", pw)
	}
	e.Metadata.writeProperties(prefix+".metadata", pw)
}

func parseEntity(prefix string, props properties) (EntityIndex, error) {
	var e EntityIndex
	var err error

	if e.Path, err = props.str(prefix + ".path"); err != nil {
		return e, err
	}
	fileType, err := props.str(prefix + ".type")
	if err != nil {
		return e, err
	}
	e.FileType = domain.FileType(fileType)
	encrypt, err := props.str(prefix + ".encrypt")
	if err != nil {
		return e, err
	}
	if e.Encrypted, err = strconv.ParseBool(encrypt); err != nil {
		return e, fmt.Errorf("%w: key %q: %v", domain.ErrIntegrity, prefix+".encrypt", err)
	}

	if _, ok := props[prefix+".content"+keyRelStartFile]; ok {
		content, err := parseBoundary(prefix+".content", props)
		if err != nil {
			return e, err
		}
		e.Content = &content
	}
	if e.Metadata, err = parseBoundary(prefix+".metadata", props); err != nil {
		return e, err
	}
	return e, e.Validate()
}
