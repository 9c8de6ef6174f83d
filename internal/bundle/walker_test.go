package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWalkDiscoversXPCServices(t *testing.T) {
	root := t.TempDir()
	appDir := filepath.Join(root, "Test.app")
	xpcDir := filepath.Join(appDir, "XPCServices", "Helper.xpc")
	if err := os.MkdirAll(xpcDir, 0755); err != nil {
		t.Fatalf("mkdir xpc: %v", err)
	}

	nodes, err := Walk(appDir)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Path != xpcDir {
		t.Fatalf("Walk = %+v, want one node for %s", nodes, xpcDir)
	}
	if nodes[0].Kind != KindXPC {
		t.Fatalf("Kind = %v, want KindXPC", nodes[0].Kind)
	}
}

func TestWalkOrdersDeepestBundlesFirst(t *testing.T) {
	root := t.TempDir()
	appDir := filepath.Join(root, "Test.app")
	fwDir := filepath.Join(appDir, "Frameworks", "A.framework")
	appexDir := filepath.Join(appDir, "PlugIns", "B.appex")
	nestedXPC := filepath.Join(appexDir, "XPCServices", "C.xpc")
	for _, d := range []string{fwDir, nestedXPC} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	nodes, err := Walk(appDir)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("Walk returned %d nodes, want 3: %+v", len(nodes), nodes)
	}
	if nodes[0].Path != nestedXPC {
		t.Fatalf("deepest node %+v should sort first, got order %+v", nestedXPC, nodes)
	}
}
