package ai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// unmarshalLenient decodes an event description, accepting the cover index
// as a number, a numeric string or null.
func unmarshalLenient(data string, desc *EventDescription) error {
	var raw struct {
		Title           string          `json:"title"`
		Description     string          `json:"description"`
		CoverPhotoIndex json.RawMessage `json:"cover_photo_index"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	desc.Title = raw.Title
	desc.Description = raw.Description
	desc.CoverPhotoIndex = nil

	s := strings.Trim(strings.TrimSpace(string(raw.CoverPhotoIndex)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		// an unusable index is not worth a retry, the cover falls back to the default
		return nil
	}
	desc.CoverPhotoIndex = &idx
	return nil
}
