package domain

import (
	"fmt"
	"time"
)

// MinThroughput is the lowest provisioned throughput accepted for a
// new container.
const MinThroughput = 100

// ContainerConfiguration describes a container to create on restore.
// It is not mutated after creation.
type ContainerConfiguration struct {
	// Name is the destination container name.
	Name string

	// PartitionKeyPath routes documents to partitions.
	PartitionKeyPath PartitionKeyPath

	// Throughput is the provisioned write budget in units per second.
	Throughput int
}

// Validate checks the configuration before a container is created.
func (c ContainerConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: container name is required", ErrInvalidInput)
	}
	if len(c.PartitionKeyPath) == 0 {
		return fmt.Errorf("%w: partition key path is required", ErrInvalidInput)
	}
	if c.Throughput < MinThroughput {
		return fmt.Errorf("%w: throughput must be at least %d", ErrInvalidInput, MinThroughput)
	}
	return nil
}

// LeaseContainerName returns the name of the lease container used while
// tailing the change feed of the named container.
func LeaseContainerName(container string) string {
	return container + "-leases"
}

// DefaultRetryAfter is the wait applied to a rate-limit response that
// carries no retry hint.
const DefaultRetryAfter = 100 * time.Millisecond

// RetryDirective pairs a throttled document with how long to wait
// before resubmitting it.
type RetryDirective struct {
	// Document is the document to resubmit.
	Document Document

	// CorrelationID tracks the document across attempts.
	CorrelationID string

	// Wait is the delay requested by the destination.
	Wait time.Duration

	// Attempt counts upserts already made for this document.
	Attempt int
}

// NewRetryDirective builds a directive, falling back to fallback (or
// DefaultRetryAfter) when the destination supplied no wait.
func NewRetryDirective(doc Document, correlationID string, wait, fallback time.Duration, attempt int) RetryDirective {
	if wait <= 0 {
		wait = fallback
	}
	if wait <= 0 {
		wait = DefaultRetryAfter
	}
	return RetryDirective{
		Document:      doc,
		CorrelationID: correlationID,
		Wait:          wait,
		Attempt:       attempt,
	}
}
