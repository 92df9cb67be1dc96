package types

import "encoding/json"

// StringOrSlice accepts either a JSON string or an array of strings. Both
// upstream APIs allow the scalar form for stop sequences and embedding input.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s StringOrSlice) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal([]string(s))
}
