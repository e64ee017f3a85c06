//go:build linux

package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// anonFile 是 O_TMPFILE 打开的无名文件，Link 之前对其他进程不可见
type anonFile struct {
	f    *os.File
	done bool
}

func openAnonymous(dir string) (*anonFile, error) {
	fd, err := unix.Open(dir, unix.O_RDWR|unix.O_TMPFILE|unix.O_CLOEXEC, 0644)
	if err != nil {
		// 老内核返回 EISDIR，某些文件系统 (overlay, nfs) 返回 EOPNOTSUPP
		if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EISDIR) || errors.Is(err, unix.EINVAL) {
			return nil, errTmpfileUnsupported
		}
		return nil, &os.PathError{Op: "open", Path: dir, Err: err}
	}
	return &anonFile{f: os.NewFile(uintptr(fd), filepath.Join(dir, "(anonymous)"))}, nil
}

func (a *anonFile) Write(p []byte) (int, error) { return a.f.Write(p) }

func (a *anonFile) Link(target string) error {
	// linkat 不会覆盖已有条目，所以先删掉旧的
	if err := RemoveIfExists(target); err != nil {
		return err
	}

	src := fmt.Sprintf("/proc/self/fd/%d", a.f.Fd())
	err := unix.Linkat(unix.AT_FDCWD, src, unix.AT_FDCWD, target, unix.AT_SYMLINK_FOLLOW)
	if errors.Is(err, unix.EEXIST) {
		// 另一个发布者在 unlink 和 link 之间抢先了。名字由内容决定，所以内容相同。
		err = nil
	}
	if err != nil {
		return &os.LinkError{Op: "linkat", Old: src, New: target, Err: err}
	}

	a.done = true
	return a.f.Close()
}

func (a *anonFile) Discard() error {
	if a.done {
		return nil
	}
	a.done = true
	// 无名文件关闭即释放
	return a.f.Close()
}
