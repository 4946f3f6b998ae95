package measure

import "context"

// Model is the page-scoped, non-persisted key/value state owned by the data
// layer. Keys may use dot notation to address nested values ("cart.total").
type Model interface {
	Get(key string) any
	Set(key string, value any)
}

// Storage persists key/value pairs with an optional lifetime.
//
// Save must honor the TTL enumeration: DoNotPersist stores nothing,
// StorageDefault applies the storage's own policy, a positive value expires
// after that many seconds and Forever never expires. Load reports found=false
// for missing and expired keys.
type Storage interface {
	Load(ctx context.Context, key string) (value any, found bool, err error)
	Save(ctx context.Context, key string, value any, ttl TTL) error
}

// Processor decides how long set values live and turns events into outbound
// actions.
type Processor interface {
	// PersistTime is a pure decision function; it must not perform I/O.
	PersistTime(key string, value any) TTL

	// ProcessEvent executes the side effect for one event. storage holds
	// durable identifiers, model holds short-lived page data.
	ProcessEvent(ctx context.Context, storage Storage, model Model, eventName string, options Options) error
}

// Namer is implemented by processors that keep state on the page model.
// Name must be stable per processor kind, not per instance, so that state
// survives re-configuration.
type Namer interface {
	Name() string
}
