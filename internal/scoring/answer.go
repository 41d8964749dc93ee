package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Answer is either a numeric choice or free text. On the wire it is a bare
// JSON number or string.
type Answer struct {
	Value *float64
	Text  string
}

func ValueAnswer(v float64) Answer { return Answer{Value: &v} }
func TextAnswer(s string) Answer   { return Answer{Text: s} }

func (a Answer) Empty() bool { return a.Value == nil && strings.TrimSpace(a.Text) == "" }

// Number returns the numeric value, accepting numeric text such as "3".
func (a Answer) Number() (float64, bool) {
	if a.Value != nil {
		return *a.Value, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(a.Text), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Value != nil {
		return json.Marshal(*a.Value)
	}
	return json.Marshal(a.Text)
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*a = Answer{}
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, &a.Text)
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		a.Value = &v
		return nil
	}
	return errors.New("answer must be a number or a string")
}
