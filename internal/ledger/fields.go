package ledger

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// ParseMethodFullName splits a fully-qualified gRPC method name
// ("proofnet.tx.v1beta2.Service.SubmitProof") into service and method parts.
func ParseMethodFullName(methodFullName string) (string, string, error) {
	if methodFullName == "" {
		return "", "", errors.New("method full name is empty")
	}

	lastDot := strings.LastIndex(methodFullName, ".")
	if lastDot == -1 {
		return "", "", fmt.Errorf("invalid method full name %q: no dot found", methodFullName)
	}

	service := methodFullName[:lastDot]
	method := methodFullName[lastDot+1:]
	if service == "" || method == "" {
		return "", "", fmt.Errorf("invalid method full name format: %q", methodFullName)
	}

	return service, method, nil
}

// getNestedField walks a dot-separated field path through a dynamic response
// message. Node responses nest interesting values ("height",
// "proof.header.height") differently across versions, so callers address
// them by path instead of generated types.
func getNestedField(msg protoreflect.Message, fieldPath string) (protoreflect.Value, error) {
	if fieldPath == "" {
		return protoreflect.Value{}, errors.New("field path is empty")
	}

	current := msg
	parts := strings.Split(fieldPath, ".")
	for i, part := range parts {
		fd := current.Descriptor().Fields().ByName(protoreflect.Name(part))
		if fd == nil {
			return protoreflect.Value{}, fmt.Errorf("field '%s' not found in message %s", part, current.Descriptor().FullName())
		}

		value := current.Get(fd)
		if i == len(parts)-1 {
			return value, nil
		}

		if fd.Message() == nil {
			return protoreflect.Value{}, fmt.Errorf("field '%s' is not a message, cannot navigate deeper", part)
		}
		current = value.Message()
	}

	return protoreflect.Value{}, errors.New("unreachable")
}
