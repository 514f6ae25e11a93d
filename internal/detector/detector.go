package detector

import "strings"

// Detector is a strategy that determines if a service is running.
// Implementations may check a PID file, a PID number, a listening port or an
// HTTP endpoint. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// AnyOf is alive when at least one of its detectors is alive. Errors from
// individual detectors only surface when none reports alive.
type AnyOf []Detector

func (a AnyOf) Alive() (bool, error) {
	var firstErr error
	for _, d := range a {
		ok, err := d.Alive()
		if ok {
			return true, nil
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return false, firstErr
}

func (a AnyOf) Describe() string { return join("any", a) }

// AllOf is alive only when every detector is alive. It short-circuits on the
// first negative answer.
type AllOf []Detector

func (a AllOf) Alive() (bool, error) {
	if len(a) == 0 {
		return false, nil
	}
	for _, d := range a {
		ok, err := d.Alive()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a AllOf) Describe() string { return join("all", a) }

func join(op string, ds []Detector) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, d.Describe())
	}
	return op + "(" + strings.Join(parts, ",") + ")"
}

// IsAlive collapses a detector answer into a bool; errors read as not running.
func IsAlive(d Detector) bool {
	if d == nil {
		return false
	}
	ok, err := d.Alive()
	return err == nil && ok
}
