// Package store provides the namespaced durable key-value store used for
// messages, users, interaction records and watermarks.
package store

import "context"

// Store defines the contract for durable key-value storage. Keys live inside
// namespaces; Scan visits every record of a namespace in unspecified order.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Scan(ctx context.Context, namespace string, fn func(key string, value []byte) error) error
	Clear(ctx context.Context, namespace string) error
	Close() error
}
