package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MappingStore keeps authoritative opaque id → phone mappings, learned only when the
// network itself discloses the phone behind an opaque sender.
type MappingStore interface {
	PhoneFor(ctx context.Context, connectionID, opaqueID string) (string, bool, error)
	RecordPhone(ctx context.Context, connectionID, opaqueID, phone string) error
}

// RedisMappingStore stores one hash per connection instance.
type RedisMappingStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisMappingStore panics on a nil client.
func NewRedisMappingStore(client *redis.Client, tracer trace.Tracer) *RedisMappingStore {
	if client == nil {
		panic("identity: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("chatlink.internal.identity.mapping")
	}
	return &RedisMappingStore{redis: client, tracer: tracer}
}

// PhoneFor returns the mapped phone digits, if any.
func (s *RedisMappingStore) PhoneFor(ctx context.Context, connectionID, opaqueID string) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "identity.phone_for")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	phone, err := s.redis.HGet(ctx, mappingKey(connectionID), UserPart(opaqueID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		span.RecordError(err)
		return "", false, fmt.Errorf("identity: load mapping: %w", err)
	}
	return phone, phone != "", nil
}

// RecordPhone stores a mapping. Non-phone values are rejected.
func (s *RedisMappingStore) RecordPhone(ctx context.Context, connectionID, opaqueID, phone string) error {
	ctx, span := s.tracer.Start(ctx, "identity.record_phone")
	defer span.End()

	digits := DigitsOnly(UserPart(phone))
	if !isPhoneDigits(digits) {
		return fmt.Errorf("identity: %q is not a phone number", phone)
	}
	if err := s.redis.HSet(ctx, mappingKey(connectionID), UserPart(opaqueID), digits).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("identity: persist mapping: %w", err)
	}
	return nil
}

// Forget drops every mapping learned for a connection instance.
func (s *RedisMappingStore) Forget(ctx context.Context, connectionID string) error {
	if err := s.redis.Del(ctx, mappingKey(connectionID)).Err(); err != nil {
		return fmt.Errorf("identity: delete mappings: %w", err)
	}
	return nil
}

func mappingKey(connectionID string) string {
	return fmt.Sprintf("identity:opaque:%s", connectionID)
}
