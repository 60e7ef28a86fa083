package config

// LoadWithEnv exposes load with an injected environment for testing.
func LoadWithEnv(path string, env map[string]string) (Config, error) {
	return load(path, func(k string) string { return env[k] })
}
