package inmemory

import (
	"testing"

	"github.com/ocistore/registry/registry/storage/driver/testsuites"
)

func TestInMemoryDriverConformance(t *testing.T) {
	testsuites.Run(t, New())
}
