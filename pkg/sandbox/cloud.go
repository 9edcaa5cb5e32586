package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// cloudModule builds the cloud.* module bound to this execution.
//
//	cloud.invoke(service, operation, params={})      -> dict
//	cloud.try_invoke(service, operation, params={})  -> {"ok": bool, "result": dict, "error": str}
//	cloud.describe(resource_type, identifier)        -> dict
//	cloud.list(resource_type, limit=25)              -> list of dict
//	cloud.region                                      -> request region or ""
func (ex *execution) cloudModule() *starlarkstruct.Module {
	region := ""
	if creds := engine.CredentialsFromContext(ex.ctx); creds != nil {
		region = creds.Region
	}
	return &starlarkstruct.Module{
		Name: "cloud",
		Members: starlark.StringDict{
			"invoke":     starlark.NewBuiltin("cloud.invoke", ex.invoke),
			"try_invoke": starlark.NewBuiltin("cloud.try_invoke", ex.tryInvoke),
			"describe":   starlark.NewBuiltin("cloud.describe", ex.describe),
			"list":       starlark.NewBuiltin("cloud.list", ex.list),
			"region":     starlark.String(region),
		},
	}
}

func (ex *execution) requireBackend(name string) error {
	if ex.backend == nil {
		return fmt.Errorf("%s: no provisioning backend configured", name)
	}
	return nil
}

func (ex *execution) call(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (map[string]interface{}, error) {
	var service, operation string
	var params *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "service", &service, "operation", &operation, "params?", &params); err != nil {
		return nil, err
	}
	if err := ex.requireBackend(b.Name()); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{}
	if params != nil {
		v, err := fromStarlarkValue(params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		payload = v.(map[string]interface{})
	}

	out, err := ex.backend.Invoke(ex.ctx, engine.OperationCall{Service: service, Operation: operation, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", service, operation, err)
	}
	return out, nil
}

func (ex *execution) invoke(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	out, err := ex.call(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return toStarlarkDict(out)
}

func (ex *execution) tryInvoke(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	out, err := ex.call(b, args, kwargs)
	resp := map[string]interface{}{"ok": err == nil, "result": out, "error": ""}
	if err != nil {
		resp["error"] = err.Error()
		resp["result"] = map[string]interface{}{}
	}
	return toStarlarkDict(resp)
}

func (ex *execution) describe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var resourceType, identifier string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "resource_type", &resourceType, "identifier", &identifier); err != nil {
		return nil, err
	}
	if err := ex.requireBackend(b.Name()); err != nil {
		return nil, err
	}
	out, err := ex.backend.Describe(ex.ctx, resourceType, identifier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return toStarlarkDict(out)
}

func (ex *execution) list(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var resourceType string
	limit := 25
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "resource_type", &resourceType, "limit?", &limit); err != nil {
		return nil, err
	}
	if err := ex.requireBackend(b.Name()); err != nil {
		return nil, err
	}
	items, err := ex.backend.List(ex.ctx, resourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return toStarlarkValue(items)
}
