//go:build linux

package shmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// mmapNamed creates (or attaches to, if it already exists) a tmpfs-backed
// file under /dev/shm and maps it MAP_SHARED, giving genuinely independent
// OS processes a named region they can all reach by name — the Linux
// analogue of POSIX shm_open(3).
func mmapNamed(name string, size int) ([]byte, error) {
	path := fmt.Sprintf("%s/omnistack_%s", shmDir, name)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("shmem: stat %s: %w", path, err)
	}
	if int(st.Size()) < size {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return nil, fmt.Errorf("shmem: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmem: mmap %s: %w", path, err)
	}
	return data, nil
}

func munmapNamed(name string, data []byte) error {
	_ = name
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// unlinkNamed removes the backing file once the control plane's refcount
// for a name drops to zero.
func unlinkNamed(name string) error {
	path := fmt.Sprintf("%s/omnistack_%s", shmDir, name)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
