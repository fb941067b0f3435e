package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWriteReadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	pid, err := ReadPID(pidPath)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID() = %d, want %d", pid, os.Getpid())
	}
}

func TestWritePIDCreatesDirectory(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.pid")

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		t.Error("PID file was not created")
	}
}

func TestReadPIDNotExists(t *testing.T) {
	_, err := ReadPID("/nonexistent/path/test.pid")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got %v", err)
	}
}

func TestReadPIDInvalidContent(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	if err := os.WriteFile(pidPath, []byte("not-a-number\n"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ReadPID(pidPath); err == nil {
		t.Error("expected error for invalid PID content")
	}
}

func TestRemovePID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := RemovePID(pidPath); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file still exists after RemovePID")
	}

	// Removing again is not an error.
	if err := RemovePID(pidPath); err != nil {
		t.Errorf("RemovePID on missing file: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
	if IsProcessRunning(0) {
		t.Error("PID 0 should not be running")
	}
	if IsProcessRunning(-1) {
		t.Error("PID -1 should not be running")
	}
}

func TestIsDaemonRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	t.Run("no pid file", func(t *testing.T) {
		running, pid := IsDaemonRunning(pidPath)
		if running || pid != 0 {
			t.Errorf("IsDaemonRunning = %v, %d, want false, 0", running, pid)
		}
	})

	t.Run("valid running process", func(t *testing.T) {
		if err := WritePID(pidPath); err != nil {
			t.Fatalf("WritePID: %v", err)
		}
		running, pid := IsDaemonRunning(pidPath)
		if !running {
			t.Error("should be running with valid PID file")
		}
		if pid != os.Getpid() {
			t.Errorf("pid = %d, want %d", pid, os.Getpid())
		}
	})

	t.Run("stale pid file", func(t *testing.T) {
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(999999999)+"\n"), 0600); err != nil {
			t.Fatalf("write file: %v", err)
		}
		running, pid := IsDaemonRunning(pidPath)
		if running {
			t.Skip("unexpectedly high PID exists")
		}
		if pid != 0 {
			t.Errorf("pid should be 0 for stale file, got %d", pid)
		}
	})
}

func TestCleanStalePID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	t.Run("cleans stale pid", func(t *testing.T) {
		if err := os.WriteFile(pidPath, []byte("999999999\n"), 0600); err != nil {
			t.Fatalf("write file: %v", err)
		}
		if !CleanStalePID(pidPath) {
			t.Error("should have cleaned stale PID")
		}
		if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
			t.Error("stale PID file should be removed")
		}
	})

	t.Run("does not clean running process", func(t *testing.T) {
		if err := WritePID(pidPath); err != nil {
			t.Fatalf("WritePID: %v", err)
		}
		if CleanStalePID(pidPath) {
			t.Error("should not clean PID of running process")
		}
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			t.Error("PID file should still exist")
		}
	})
}
