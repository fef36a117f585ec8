package store

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdBackend backs the share store with etcd, grounded on
// opentitan-provisioning's etcd-backed proxy-buffer usage. Selected via
// storage.backend: etcd in node configuration; gives a path to a
// shared, multi-node-durable store without re-architecting Store itself.
type EtcdBackend struct {
	client *clientv3.Client
	prefix string
}

var _ Backend = (*EtcdBackend)(nil)

func NewEtcdBackend(endpoints []string, prefix string) (*EtcdBackend, error) {
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("store: connecting to etcd: %w", err)
	}
	return &EtcdBackend{client: client, prefix: prefix}, nil
}

func (b *EtcdBackend) key(namespace, key string) string {
	return fmt.Sprintf("%s/%s/%s", b.prefix, namespace, key)
}

func (b *EtcdBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	resp, err := b.client.Get(ctx, b.key(namespace, key))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (b *EtcdBackend) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := b.client.Put(ctx, b.key(namespace, key), string(value))
	return err
}

func (b *EtcdBackend) Has(ctx context.Context, namespace, key string) (bool, error) {
	resp, err := b.client.Get(ctx, b.key(namespace, key), clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}

func (b *EtcdBackend) Close() error {
	return b.client.Close()
}
