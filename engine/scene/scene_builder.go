package scene

// SceneBuilderOption is a function that configures a scene during construction.
type SceneBuilderOption func(*scene)

// WithActive sets whether the scene starts active. Defaults to inactive.
//
// Parameters:
//   - active: true to start active
//
// Returns:
//   - SceneBuilderOption: a function that applies the active option
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithComputeWorkers overrides the number of goroutines in the per-frame
// compute pool. Defaults to NumCPU - 1, minimum 1.
//
// Parameters:
//   - workers: the worker count, values below 1 are clamped to 1
//
// Returns:
//   - SceneBuilderOption: a function that applies the worker count option
func WithComputeWorkers(workers int) SceneBuilderOption {
	return func(s *scene) {
		if workers < 1 {
			workers = 1
		}
		s.computeWorkers = workers
	}
}
