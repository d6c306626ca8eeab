package saga

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Payload is a structured, JSON-serializable document: saga input, output, accumulated context and step data.
type Payload map[string]interface{}

// ToPayload normalizes any JSON-serializable value into a Payload. Structs become maps keyed by their json tags.
func ToPayload(v interface{}) (Payload, error) {
	switch val := v.(type) {
	case nil:
		return Payload{}, nil
	case Payload:
		return val.Clone(), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling value into payload")
	}

	res := Payload{}

	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "value of type %T is not an object", v)
	}

	return res, nil
}

// Decode fills target (a pointer to a struct or a map) using json tags
func (p Payload) Decode(target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if err := decoder.Decode(map[string]interface{}(p)); err != nil {
		return errors.Wrapf(err, "decoding payload into %T", target)
	}

	return nil
}

// Clone makes a shallow copy
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}

	res := make(Payload, len(p))
	for k, v := range p {
		res[k] = v
	}

	return res
}

// Merge copies top-level keys of other into p, overwriting existing ones
func (p Payload) Merge(other Payload) Payload {
	res := p.Clone()
	if res == nil {
		res = Payload{}
	}

	for k, v := range other {
		res[k] = v
	}

	return res
}

func marshalPayload(p Payload) (interface{}, error) {
	if p == nil {
		return nil, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return string(data), nil
}

func unmarshalPayload(data []byte) (Payload, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	res := Payload{}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.WithStack(err)
	}

	return res, nil
}
