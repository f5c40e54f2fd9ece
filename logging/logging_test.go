package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_RotatesPastCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	w, err := OpenRotating(path, 64)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() > 64 {
		t.Errorf("active log is %d bytes, want <= 64", info.Size())
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	l, rw, err := New("oddsharvest", "test", "debug", path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("hello")
	_ = l.Sync()
	rw.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"service":"oddsharvest"`) {
		t.Errorf("missing service field in %q", data)
	}
}
