package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
)

// Values cross the sandbox boundary as JSON: Go payloads are marshalled and
// decoded by Starlark's json module, and procedure values go back the same
// way. Whole numbers come out as int64, others as float64.

var (
	jsonEncode = starlarkjson.Module.Members["encode"]
	jsonDecode = starlarkjson.Module.Members["decode"]
)

func convertThread() *starlark.Thread {
	return &starlark.Thread{Name: "convert"}
}

// toStarlarkValue converts a JSON-representable Go value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	return starlark.Call(convertThread(), jsonDecode, starlark.Tuple{starlark.String(data)}, nil)
}

// fromStarlarkValue converts a procedure value. Dicts need string keys;
// structs become maps of their fields.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	encoded, err := starlark.Call(convertThread(), jsonEncode, starlark.Tuple{v}, nil)
	if err != nil {
		return nil, err
	}
	s, ok := encoded.(starlark.String)
	if !ok {
		return nil, fmt.Errorf("json.encode returned %s", encoded.Type())
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalizeNumbers(out), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []interface{}:
		for i := range val {
			val[i] = normalizeNumbers(val[i])
		}
	case map[string]interface{}:
		for k := range val {
			val[k] = normalizeNumbers(val[k])
		}
	}
	return v
}

// toStarlarkDict converts a map for handing to a procedure.
func toStarlarkDict(m map[string]interface{}) (*starlark.Dict, error) {
	if m == nil {
		return starlark.NewDict(0), nil
	}
	v, err := toStarlarkValue(m)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("expected dict, got %s", v.Type())
	}
	return dict, nil
}
