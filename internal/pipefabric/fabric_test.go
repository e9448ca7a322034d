//go:build linux

package pipefabric

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_AllSixPipesNamed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	fab, err := New(context.Background(), dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fab.Close()

	for _, name := range []string{"user-out", "user-in", "interactor-out", "interactor-in", "user-exit", "interactor-exit"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected fifo %s to exist: %v", name, err)
		}
	}
}

func TestNew_UserOutBytesReachProxyReadUser(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	fab, err := New(context.Background(), dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fab.Close()

	payload := []byte("hello interactor\n")
	go func() {
		fab.UserStdout.Write(payload)
	}()

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, len(payload))
	var total int
	for total < len(payload) && time.Now().Before(deadline) {
		n, err := fab.ProxyReadUser.Read(buf[total:])
		total += n
		if err != nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if string(buf[:total]) != string(payload) {
		t.Errorf("read %q, want %q", buf[:total], payload)
	}
}

func TestNew_ProxyWriteUserReachesUserStdin(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	fab, err := New(context.Background(), dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fab.Close()

	payload := []byte("3 4\n")
	go func() {
		fab.ProxyWriteUser.Write(payload)
	}()

	buf := make([]byte, len(payload))
	n, err := fab.UserStdin.Read(buf)
	if err != nil {
		t.Fatalf("reading UserStdin: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("read %q, want %q", buf[:n], payload)
	}
}

func TestClose_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	fab, err := New(context.Background(), dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := fab.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := fab.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got error = %v", err)
	}
}
