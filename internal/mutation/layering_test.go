package mutation

import (
	"testing"

	"cellvault/testutil"
)

func TestMutationUsesStorageFacades(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.Any(testutil.TransportImportForbidden, testutil.StorageDriverImportForbidden),
		"the coordinator talks to blob.Store and audit.Sink only")
}
