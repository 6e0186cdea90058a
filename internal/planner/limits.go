package planner

import (
	"resource-orm/internal/ormerr"
	"resource-orm/internal/schema"
)

// ResolveLimit applies the resource's limit policy to a requested limit.
// A nil result means no limit.
//
//	requested  max    result
//	-1         -1     unbounded
//	-1         N      N
//	L          -1/>=L L
//	L          <L     InvalidRequest
//	absent     any    default limit
func ResolveLimit(def *schema.Definition, requested *int) (*int, error) {
	if requested == nil {
		limit := def.DefaultLimit
		return &limit, nil
	}
	if *requested == schema.Unlimited {
		if def.MaxLimit == schema.Unlimited {
			return nil, nil
		}
		limit := def.MaxLimit
		return &limit, nil
	}
	if *requested < schema.Unlimited {
		return nil, ormerr.InvalidRequest("unable to list resource: invalid limit (%d)", *requested)
	}
	if def.MaxLimit != schema.Unlimited && *requested > def.MaxLimit {
		return nil, ormerr.InvalidRequest("unable to list resource: limit (%d) exceeds maximum limit (%d)", *requested, def.MaxLimit)
	}
	limit := *requested
	return &limit, nil
}
