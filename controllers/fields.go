package controllers

import (
	"bytes"
	"encoding/json"
	"strings"
)

// looseString accepts a JSON string, number or boolean (and plain form
// values) so that browser forms and API clients can post the same DTO.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

// flag reads yes/no style values; empty means def.
func (s looseString) flag(def bool) bool {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "":
		return def
	case "yes", "y", "true", "1", "on":
		return true
	default:
		return false
	}
}
