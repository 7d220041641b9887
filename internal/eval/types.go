package eval

// #region eval-config
// Config holds the checks applied to every produced batch.
type Config struct {
	ExpectedSize     int     // required batch length, 0 to skip the check
	MinLaneDiversity float64 // informational: distinct ego start lanes / batch length
}

// DefaultConfig returns a config expecting batches of size n.
func DefaultConfig(n int) Config {
	return Config{
		ExpectedSize:     n,
		MinLaneDiversity: 0.2,
	}
}

// #endregion eval-config

// #region eval-metric
// Metric captures a single validation check result.
type Metric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// Result is the output of batch validation.
type Result struct {
	Passed  bool
	Metrics []Metric
	Reason  string
}

// Metric returns the named metric, if present.
func (r Result) Metric(name string) (Metric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// #endregion eval-result
