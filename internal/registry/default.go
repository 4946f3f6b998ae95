package registry

import "github.com/roach88/measure/internal/processor/googleanalytics"

// Default is the process-wide registry. It is seeded with the built-in
// googleAnalytics processor and has no built-in storages; hosts add
// storages at startup with Register.
var Default = New()

func init() {
	Default.RegisterProcessor(googleanalytics.Name, googleanalytics.Constructor)
}

// Register adds an entry to Default.
func Register(kind Kind, name string, ctor any) error {
	return Default.Register(kind, name, ctor)
}
