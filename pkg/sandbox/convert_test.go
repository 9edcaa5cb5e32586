package sandbox

import (
	"reflect"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func TestConvert_RoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"name":    "orders-db",
		"count":   3,
		"ratio":   0.5,
		"public":  false,
		"subnets": []string{"subnet-a", "subnet-b"},
		"tags":    map[string]string{"owner": "platform"},
		"note":    nil,
	}

	dict, err := toStarlarkDict(in)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out, err := fromStarlarkValue(dict)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := map[string]interface{}{
		"name":    "orders-db",
		"count":   int64(3),
		"ratio":   0.5,
		"public":  false,
		"subnets": []interface{}{"subnet-a", "subnet-b"},
		"tags":    map[string]interface{}{"owner": "platform"},
		"note":    nil,
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Expected %#v, got %#v", want, out)
	}
}

func TestFromStarlarkValue_Struct(t *testing.T) {
	s := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"state": starlark.String("available"),
		"port":  starlark.MakeInt(5432),
	})

	out, err := fromStarlarkValue(s)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a map, got %T", out)
	}
	if m["state"] != "available" || m["port"] != int64(5432) {
		t.Errorf("Unexpected struct conversion: %v", m)
	}
}

func TestFromStarlarkValue_NonStringKey(t *testing.T) {
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.MakeInt(1), starlark.String("x"))

	if _, err := fromStarlarkValue(d); err == nil {
		t.Error("Expected error for a non-string dict key")
	}
}
