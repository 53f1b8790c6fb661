package types

import (
	"testing"
	"time"
)

func TestPathHandleString(t *testing.T) {
	p := NewPathHandle("/test/file.txt")
	if p.String() != "/test/file.txt" {
		t.Errorf("String() = %q, want %q", p.String(), "/test/file.txt")
	}
}

func TestPathHandleNilString(t *testing.T) {
	var p *PathHandle
	if p.String() != "" {
		t.Errorf("nil String() = %q, want empty", p.String())
	}
}

func TestFileRefFields(t *testing.T) {
	now := time.Now()
	ref := &FileRef{
		Path:    NewPathHandle("/test/file.txt"),
		Size:    1024,
		Inode:   12345,
		ModTime: now,
	}

	if ref.Path.String() != "/test/file.txt" {
		t.Errorf("Path = %q, want %q", ref.Path.String(), "/test/file.txt")
	}
	if ref.Size != 1024 {
		t.Errorf("Size = %d, want 1024", ref.Size)
	}
	if ref.Inode != 12345 {
		t.Errorf("Inode = %d, want 12345", ref.Inode)
	}
	if !ref.ModTime.Equal(now) {
		t.Errorf("ModTime = %v, want %v", ref.ModTime, now)
	}
}

func TestHashMatchGroup(t *testing.T) {
	group := HashMatchGroup{
		&FileRef{Path: NewPathHandle("/a"), Size: 10},
		&FileRef{Path: NewPathHandle("/b"), Size: 10},
	}
	if len(group) != 2 {
		t.Errorf("len(group) = %d, want 2", len(group))
	}
}

func TestSemaphoreBasic(t *testing.T) {
	sem := NewSemaphore(2)

	// Should be able to acquire twice without blocking
	sem.Acquire()
	sem.Acquire()

	sem.Release()
	sem.Acquire()

	sem.Release()
	sem.Release()
}
