package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/veridrop/veridrop/internal/faults"
	"google.golang.org/grpc"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// methodResolver resolves method descriptors by full name. Implemented by
// the reflection-backed resolver below and by test fakes.
type methodResolver interface {
	Method(ctx context.Context, methodFullName string) (protoreflect.MethodDescriptor, error)
}

// reflectionResolver fetches file descriptors over the node's server
// reflection stream. Descriptors are fetched once per unknown symbol and the
// assembled registry is cached for the connection's lifetime.
type reflectionResolver struct {
	client reflectpb.ServerReflectionClient

	mu    sync.Mutex
	fdps  map[string]*descriptorpb.FileDescriptorProto
	files *protoregistry.Files
}

func newReflectionResolver(conn grpc.ClientConnInterface) *reflectionResolver {
	return &reflectionResolver{
		client: reflectpb.NewServerReflectionClient(conn),
		fdps:   make(map[string]*descriptorpb.FileDescriptorProto),
		files:  new(protoregistry.Files),
	}
}

// Method resolves the descriptor for a fully-qualified method name, pulling
// the containing file (plus transitive dependencies) from the server on
// first sight.
func (r *reflectionResolver) Method(ctx context.Context, methodFullName string) (protoreflect.MethodDescriptor, error) {
	service, method, err := ParseMethodFullName(methodFullName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	desc, err := r.files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		if err := r.fetchSymbolLocked(ctx, service); err != nil {
			return nil, err
		}
		desc, err = r.files.FindDescriptorByName(protoreflect.FullName(service))
		if err != nil {
			return nil, fmt.Errorf("service %s not exposed by node: %w", service, err)
		}
	}

	svc, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("symbol %s is not a service", service)
	}
	md := svc.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, fmt.Errorf("method %s not found on service %s", method, service)
	}
	return md, nil
}

func (r *reflectionResolver) fetchSymbolLocked(ctx context.Context, symbol string) error {
	stream, err := r.client.ServerReflectionInfo(ctx)
	if err != nil {
		return faults.Transient("reflection stream", err)
	}
	defer func() { _ = stream.CloseSend() }()

	req := &reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: symbol,
		},
	}
	if err := stream.Send(req); err != nil {
		return faults.Transient("reflection send", err)
	}

	resp, err := stream.Recv()
	if err != nil {
		return faults.Transient("reflection recv", err)
	}

	switch payload := resp.MessageResponse.(type) {
	case *reflectpb.ServerReflectionResponse_FileDescriptorResponse:
		return r.registerLocked(payload.FileDescriptorResponse.GetFileDescriptorProto())
	case *reflectpb.ServerReflectionResponse_ErrorResponse:
		return fmt.Errorf("reflection lookup for %s failed: %s", symbol, payload.ErrorResponse.GetErrorMessage())
	default:
		return fmt.Errorf("unexpected reflection response type %T", payload)
	}
}

// registerLocked merges freshly fetched file descriptors into the registry.
// The reflection response carries the transitive dependency closure, so the
// accumulated set is always linkable.
func (r *reflectionResolver) registerLocked(raw [][]byte) error {
	added := false
	for _, b := range raw {
		fdp := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(b, fdp); err != nil {
			return fmt.Errorf("failed to decode file descriptor: %w", err)
		}
		if _, exists := r.fdps[fdp.GetName()]; exists {
			continue
		}
		r.fdps[fdp.GetName()] = fdp
		added = true
	}
	if !added {
		return nil
	}

	set := &descriptorpb.FileDescriptorSet{
		File: make([]*descriptorpb.FileDescriptorProto, 0, len(r.fdps)),
	}
	for _, fdp := range r.fdps {
		set.File = append(set.File, fdp)
	}
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return fmt.Errorf("failed to assemble descriptor registry: %w", err)
	}
	r.files = files
	return nil
}
