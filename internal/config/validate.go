package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the values a command depends on are usable.
func (c *Config) Validate(command string) error {
	var errs []string

	pipelineChecks := func() {
		for name, dir := range map[string]string{
			"folders.source":         c.Folders.Source,
			"folders.grouping":       c.Folders.Grouping,
			"folders.final_result":   c.Folders.FinalResult,
			"folders.convert_result": c.Folders.ConvertResult,
			"folders.metaboanalyst":  c.Folders.MetaboAnalyst,
		} {
			if strings.TrimSpace(dir) == "" {
				errs = append(errs, name+" is required")
			}
		}
		if c.ClassyFire.BaseURL == "" {
			errs = append(errs, "classyfire.base_url is required")
		}
		if c.ClassyFire.Retries < 1 {
			errs = append(errs, "classyfire.retries must be >= 1")
		}
		if c.ClassyFire.DelayMs < 0 {
			errs = append(errs, "classyfire.delay_ms must be >= 0")
		}
		if c.ClassyFire.TimeoutSecs < 1 {
			errs = append(errs, "classyfire.timeout_secs must be >= 1")
		}
		if c.CTS.BaseURL == "" {
			errs = append(errs, "cts.base_url is required")
		}
		if len(c.CTS.Targets) == 0 {
			errs = append(errs, "cts.targets must not be empty")
		}
		if c.Pipeline.OutputFile == "" {
			errs = append(errs, "pipeline.output_file is required")
		}
		if c.Pipeline.TimeoutMins < 1 {
			errs = append(errs, "pipeline.timeout_mins must be >= 1")
		}
	}

	storeChecks := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	publishChecks := func() {
		if c.Publish.Bucket == "" {
			errs = append(errs, "publish.bucket is required")
		}
	}

	switch command {
	case "run":
		pipelineChecks()
		storeChecks()
	case "watch":
		pipelineChecks()
		storeChecks()
		if c.Watch.DebounceMs < 0 {
			errs = append(errs, "watch.debounce_ms must be >= 0")
		}
		if c.Watch.Publish {
			publishChecks()
		}
	case "serve":
		pipelineChecks()
		storeChecks()
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	case "runs", "cache":
		storeChecks()
	case "publish":
		publishChecks()
	case "clean":
	default:
		return eris.Errorf("config: unknown command %q", command)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", command, strings.Join(errs, "; "))
	}
	return nil
}
