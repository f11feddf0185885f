package variant

import "fmt"

// ConfigError reports a malformed or contradictory configuration. It is
// always raised before any build, wrap or compose side effect.
type ConfigError struct {
	Subject string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s: %s", e.Subject, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BuildFailure reports that compiling a variant failed. Output holds the
// tail of the compiler output when it was captured.
type BuildFailure struct {
	Variant string
	Output  string
	Err     error
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("build of %s failed", e.Variant)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// WrapFailure reports a runtime dependency that could not be resolved to a
// concrete path, or a failure writing the wrapper.
type WrapFailure struct {
	Variant    string
	Dependency string
	Err        error
}

func (e *WrapFailure) Error() string {
	if e.Dependency == "" {
		return fmt.Sprintf("wrap of %s failed: %v", e.Variant, e.Err)
	}
	return fmt.Sprintf("wrap of %s failed: cannot resolve %q: %v", e.Variant, e.Dependency, e.Err)
}

func (e *WrapFailure) Unwrap() error { return e.Err }

// BundleConflict reports two bundle members providing the same output path.
type BundleConflict struct {
	Bundle string
	Path   string
	First  string
	Second string
}

func (e *BundleConflict) Error() string {
	return fmt.Sprintf("bundle %s: %s is provided by both %s and %s", e.Bundle, e.Path, e.First, e.Second)
}
