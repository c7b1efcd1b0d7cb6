package backend

import "context"

// Unimplemented can be embedded by a Backend implementation to get
// ErrNotSupported defaults for every optional hook, so a concrete backend
// only needs to override the ones it actually implements.
type Unimplemented struct{}

func (Unimplemented) ListResourceTemplates(context.Context, string) (Page[ResourceTemplate], error) {
	return Page[ResourceTemplate]{}, ErrNotSupported
}

func (Unimplemented) Subscribe(context.Context, string) error   { return ErrNotSupported }
func (Unimplemented) Unsubscribe(context.Context, string) error { return ErrNotSupported }

func (Unimplemented) Complete(context.Context, CompletionRequest) (CompletionResult, error) {
	return CompletionResult{}, ErrNotSupported
}

func (Unimplemented) SetLogLevel(context.Context, string) error { return ErrNotSupported }
