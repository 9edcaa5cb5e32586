// Package config loads the cloudpilot process configuration.
//
// A YAML file is decoded over Default, CLOUDPILOT_* environment variables
// override selected fields, and the result is checked with validator struct
// tags:
//
//	cfg, err := config.Load("/etc/cloudpilot/cloudpilot.yaml")
//	if err != nil {
//		return err
//	}
//	orch := engine.New(engine.Options{Settings: cfg.EngineSettings(), ...})
//
// Durations are written the way time.ParseDuration reads them ("4s", "24h").
package config
