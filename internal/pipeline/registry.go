package pipeline

import "sort"

// Constructor builds a provider from its configuration entry.
type Constructor func(config Config) (MetaData, error)

// Factory creates model pipelines based on configuration.
type Factory interface {
	Create(name string, config Config) (MetaData, error)
}

// DefaultFactory is a registry keyed by provider name.
type DefaultFactory struct {
	constructors map[string]Constructor
}

// NewDefaultFactory creates an empty DefaultFactory.
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under a provider name.
func (f *DefaultFactory) Register(name string, constructor Constructor) {
	f.constructors[name] = constructor
}

// Create builds the provider registered under name.
func (f *DefaultFactory) Create(name string, config Config) (MetaData, error) {
	constructor, ok := f.constructors[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return constructor(config)
}

// Names lists the registered provider names, sorted.
func (f *DefaultFactory) Names() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrProviderNotFound is returned when no provider is registered under the
// requested name.
var ErrProviderNotFound = error(ErrorProviderNotFound("model provider not found"))

type ErrorProviderNotFound string

func (e ErrorProviderNotFound) Error() string { return string(e) }
