package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/veridrop/veridrop/internal/faults"
)

// fakeResolver resolves only the method names it was given.
type fakeResolver struct {
	known map[string]bool
	err   error
}

func (f *fakeResolver) Method(_ context.Context, methodFullName string) (protoreflect.MethodDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.known[methodFullName] {
		return nil, fmt.Errorf("symbol %s not found", methodFullName)
	}
	return nil, nil
}

func methodSet(caps Capability) map[string]bool {
	return map[string]bool{
		caps.SubmitMethod:   true,
		caps.TxByHashMethod: true,
		caps.StatusMethod:   true,
	}
}

func TestNegotiatePrefersNewestVersion(t *testing.T) {
	known := methodSet(capabilitySets[0])
	for m := range methodSet(capabilitySets[1]) {
		known[m] = true
	}

	caps, err := negotiate(context.Background(), &fakeResolver{known: known})
	require.NoError(t, err)
	assert.Equal(t, "v1beta2", caps.Version)
}

func TestNegotiateFallsBackToOlderVersion(t *testing.T) {
	caps, err := negotiate(context.Background(), &fakeResolver{known: methodSet(capabilitySets[1])})
	require.NoError(t, err)
	assert.Equal(t, "v1beta1", caps.Version)
	assert.Equal(t, "proofnet.tx.v1beta1.Service.BroadcastProof", caps.SubmitMethod)
}

func TestNegotiateRejectsPartialSupport(t *testing.T) {
	// A node exposing only the submit method of each version supports
	// neither set completely.
	known := map[string]bool{
		capabilitySets[0].SubmitMethod: true,
		capabilitySets[1].SubmitMethod: true,
	}

	_, err := negotiate(context.Background(), &fakeResolver{known: known})
	assert.ErrorContains(t, err, "none of the known API versions")
}

func TestNegotiateSurfacesTransientFaults(t *testing.T) {
	cause := &faults.TransientError{Op: "reflection stream", Err: fmt.Errorf("connection refused")}
	_, err := negotiate(context.Background(), &fakeResolver{err: cause})
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))
}
