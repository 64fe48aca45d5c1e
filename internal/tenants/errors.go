package tenants

import (
	"errors"
	"fmt"
)

var (
	// ErrTenantNotFound is returned when no tenant row matches.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrDomainTaken matches any *DomainTakenError.
	ErrDomainTaken = errors.New("domain already taken")
)

// DomainTakenError names the hostname that lost the uniqueness race.
type DomainTakenError struct {
	Domain string
}

func (e *DomainTakenError) Error() string {
	return fmt.Sprintf("domain %q already taken", e.Domain)
}

func (e *DomainTakenError) Is(target error) bool { return target == ErrDomainTaken }
