// Package directory resolves the operator responsible for a caller through
// the external office directory.
package directory

import (
	"context"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// Operator is the directory record of the operator responsible for a caller.
type Operator struct {
	Phones   []string       `json:"phones"`
	Manager  string         `json:"manager,omitempty"`
	Office   string         `json:"office,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Resource returns the endpoint resource of the operator's first phone.
func (o *Operator) Resource() string {
	if o == nil || len(o.Phones) == 0 {
		return ""
	}
	return PhoneResource(o.Phones[0])
}

// PhoneResource normalizes a phone address to an endpoint resource.
// Accepted forms are "SIP/201", "sip:201@pbx.local" and "201".
func PhoneResource(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	lower := strings.ToLower(phone)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		var uri sip.Uri
		if err := sip.ParseUri(phone, &uri); err != nil {
			return ""
		}
		return uri.User
	}

	if _, resource, ok := gateway.SplitAddress(phone); ok {
		return resource
	}
	if strings.Contains(phone, "/") {
		return ""
	}
	return phone
}

// Lookup resolves the operator for a caller number. A nil operator with a
// nil error means the directory has no operator for the caller.
type Lookup interface {
	Lookup(ctx context.Context, caller string) (*Operator, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, caller string) (*Operator, error)

func (f LookupFunc) Lookup(ctx context.Context, caller string) (*Operator, error) {
	return f(ctx, caller)
}

// Static returns a Lookup that never resolves an operator.
func Static() Lookup {
	return LookupFunc(func(ctx context.Context, caller string) (*Operator, error) {
		if caller == "" {
			return nil, ErrEmptyCaller
		}
		return nil, nil
	})
}
