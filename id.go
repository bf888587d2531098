package canarystore

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 identifier.
// Metric set list ids, canary config ids and pending update correlation ids all come from here,
// so ids written by one process sort by creation time in a listing.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// IsValidID reports whether s is a UUID as produced by NewID
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ValidateObjectKey rejects keys and file names that would not stay inside their
// object type's folder once joined into a storage path.
func ValidateObjectKey(field, key string) error {
	reason := ""
	switch {
	case key == "":
		reason = "must not be empty"
	case strings.HasPrefix(key, "/"):
		reason = "must be relative"
	case strings.ContainsAny(key, "\\\x00"):
		reason = "contains a forbidden character"
	default:
		for _, segment := range strings.Split(key, "/") {
			if segment == "." || segment == ".." {
				reason = "must not contain . or .. segments"
				break
			}
		}
	}
	if reason == "" {
		return nil
	}
	return WithContext(ErrInvalidData, map[string]interface{}{
		"field":  field,
		"value":  key,
		"reason": reason,
	})
}
