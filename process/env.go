package process

import (
	"os"
	"strconv"
)

// buildEnv returns the environment for an instance. Later entries win, so
// the contract variables override anything inherited or configured.
func buildEnv(cfg *Config, req StartRequest) []string {
	env := os.Environ()
	env = append(env, cfg.Command.Env...)
	env = append(env, cfg.Env...)
	env = append(env, req.Env...)
	return append(env,
		"PORT="+strconv.Itoa(req.Port),
		"HOSTNAME="+cfg.Hostname,
		"DATABASE_URL="+req.DatabaseURL,
		"DATABASE_URL_UNPOOLED="+req.DatabaseURL,
		"DIRECT_URL="+req.DatabaseURL,
		"E2E_SUITE_ID="+req.SuiteID,
		"NEXT_TELEMETRY_DISABLED=1",
		"DISABLE_ANALYTICS=true",
		"DISABLE_CACHE=true",
	)
}
