// Package redis provides a Redis-backed BlobStore for deployments where
// the tuning history should survive device replacement (e.g. a bench
// controller fleet sharing one learning corpus).
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "trickler:blob:"

type Blob struct {
	client *redis.Client
}

func NewBlob(url string) (*Blob, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Blob{client: client}, nil
}

func (b *Blob) Read(ctx context.Context, addr uint32) ([]byte, error) {
	data, err := b.client.Get(ctx, key(addr)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %d: %w", addr, err)
	}
	return data, nil
}

func (b *Blob) Write(ctx context.Context, addr uint32, data []byte) error {
	if err := b.client.Set(ctx, key(addr), data, 0).Err(); err != nil {
		return fmt.Errorf("write blob %d: %w", addr, err)
	}
	return nil
}

func (b *Blob) Close() error {
	return b.client.Close()
}

func key(addr uint32) string {
	return fmt.Sprintf("%s%08x", keyPrefix, addr)
}
