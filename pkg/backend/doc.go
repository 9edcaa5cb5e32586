// Package backend provides the resource provisioning backends used by the
// orchestration engine.
//
// Simulator is an in-memory provider with fixed handlers for the common
// resource families. It models transitional states, accepts raw operation
// calls and lets tests inject failures that remediation steps clear, which
// makes the whole workflow runnable without a cloud account.
//
// RemoteBackend talks to a backend served by Server over JSON/HTTP:
//
//	router := gin.New()
//	backend.NewServer(sim, logger).Mount(router.Group("/v1/backend"))
//
//	rb := backend.NewRemote(remote.New(remote.Options{Name: "backend", BaseURL: url}), logger)
//	if err := rb.Refresh(ctx); err != nil {
//		return err
//	}
//
// Per-request credentials travel on the context and are forwarded in the
// request body.
package backend
