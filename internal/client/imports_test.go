package client

import (
	"go/build"
	"strings"
	"testing"
)

func TestClientStaysOffServerStack(t *testing.T) {
	pkg, err := build.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if strings.HasSuffix(imp, "/internal/server") || strings.HasSuffix(imp, "/internal/toggle") || strings.Contains(imp, "prometheus") {
			t.Errorf("client imports %s", imp)
		}
	}
}
