package backend

import (
	"context"

	"github.com/getsluice/sluice/pkg/types"
)

// Invoker is the protected backend as the admission core sees it: one async
// operation that succeeds with a response or fails with an error. Transport
// is this package's business, not the caller's.
type Invoker interface {
	Invoke(ctx context.Context, req *types.AdmissionRequest) (*types.BackendResponse, error)
}
