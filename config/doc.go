// Package config loads relay settings from defaults, an optional YAML or
// JSON file and AGENTRELAY_* environment variables, in increasing order of
// precedence.
//
//	cfg, err := config.Load("relay.yaml")
//	if err != nil { ... }
//	fmt.Print(cfg.YAML())
package config
