package config

// Resolve merges a repository's partial optimization override onto the
// global defaults, field by field. Present fields shadow defaults; absent
// fields fall back without error. The result is computed once per repository
// at run start and treated as immutable for that run.
func (c *Config) Resolve(r *RepositorySpec) OptimizationSettings {
	out := c.DefaultSettings
	if r.Optimization.EnableOptimizers != nil {
		out.EnableOptimizers = *r.Optimization.EnableOptimizers
	}
	if r.Optimization.MaxIterations != nil {
		out.MaxIterations = *r.Optimization.MaxIterations
	}
	if r.Optimization.IgnoreFailure != nil {
		out.IgnoreFailure = *r.Optimization.IgnoreFailure
	}
	if r.Optimization.FilePattern != nil {
		out.FilePattern = *r.Optimization.FilePattern
	}
	return out
}

// ResolveNotifications returns the notification config effective for a
// repository. A repository-level block replaces the global block entirely;
// it is never merged field by field.
func (c *Config) ResolveNotifications(r *RepositorySpec) NotificationConfig {
	if r.Notifications != nil {
		return *r.Notifications
	}
	return c.Notifications
}
