// Package schema provides the operation catalog used to introspect provider
// operation inputs.
//
// The catalog is written in CUE. The embedded sources under cue/ declare the
// constraints (#Field, #Operation) and the built-in services; additional
// sources can be unified in with LoadFile or LoadDir, and any conflict or
// constraint violation is reported as a LoadError with file positions.
//
// Catalog implements engine.SchemaIntrospector:
//
//	catalog, err := schema.NewCatalog(logger)
//	service := catalog.ServiceFor("security_group")             // "ec2"
//	op := catalog.ResolveOperation(service, "security_group", "create")
//	opSchema, _ := catalog.OperationSchema(service, op)
//	err = catalog.ValidatePayload(opSchema, payload)
//
// Payload validation derives a JSON Schema from the operation schema and
// checks it with gojsonschema.
package schema
