package workbook

import (
	"testing"

	"cellvault/testutil"
)

func TestWorkbookStaysTransportAndStorageFree(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.Any(testutil.TransportImportForbidden, testutil.StorageDriverImportForbidden),
		"workbook only edits documents in memory")
}
