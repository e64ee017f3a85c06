package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// pendingFile 是一个还没有名字 (或者只有临时名字) 的对象
type pendingFile interface {
	io.Writer
	// Link 以 target 为名发布，替换同名旧条目
	Link(target string) error
	// Discard 丢弃未发布的内容
	Discard() error
}

// errTmpfileUnsupported 表示平台或文件系统不支持 O_TMPFILE
var errTmpfileUnsupported = errors.New("O_TMPFILE not supported")

func openPending(dir string) (pendingFile, error) {
	p, err := openAnonymous(dir)
	if errors.Is(err, errTmpfileUnsupported) {
		return openHiddenTemp(dir)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// hiddenTemp 是退化方案：先写到隐藏的临时文件，然后 Rename。
// 临时名字永远不是合法的 Checksum，所以内容地址下不会出现半截文件。
type hiddenTemp struct {
	f    *os.File
	done bool
}

func openHiddenTemp(dir string) (*hiddenTemp, error) {
	f, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &hiddenTemp{f: f}, nil
}

func (h *hiddenTemp) Write(p []byte) (int, error) { return h.f.Write(p) }

func (h *hiddenTemp) Link(target string) error {
	// 必须先关闭才能 Rename
	if err := h.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(h.f.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", h.f.Name(), err)
	}
	h.done = true
	return nil
}

func (h *hiddenTemp) Discard() error {
	if h.done {
		return nil
	}
	h.done = true
	h.f.Close()
	return RemoveIfExists(h.f.Name())
}
