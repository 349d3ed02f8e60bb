package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"logpipe/pkg/contract"
)

// Options: 文件系统输出选项。
type Options struct {
	// OutputDir: 两个输出工件所在目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 先写同目录临时文件，Close 时再 rename 到目标。
	// 默认 false：直接截断目标写入，失败时已冲刷的部分留在目标上。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 只保留工件名的最后一段；nil 视为 true。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 为 0 时使用 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
}

type FS struct {
	dir    string
	atomic bool
	flat   bool
	permF  os.FileMode
	permD  os.FileMode
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	w := &FS{dir: opts.OutputDir, flat: true, permF: 0o644, permD: 0o755}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Open 打开 id 对应的输出工件；既有内容被截断（原子模式下在 Close 时整体替换）。
// 文件系统层面的失败统一包装为 ErrSinkWrite。
func (w *FS) Open(ctx context.Context, id contract.ArtifactID) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return nil, sinkErr("mkdir", dest, err)
	}
	if w.atomic {
		tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
		if err != nil {
			return nil, sinkErr("create temp for", dest, err)
		}
		_ = os.Chmod(tmp.Name(), w.permF)
		return &atomicFile{file: file{ctx: ctx, f: tmp}, dest: dest}, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return nil, sinkErr("open", dest, err)
	}
	return &file{ctx: ctx, f: f}, nil
}

// mapPath 把工件名解析到输出目录下，拒绝绝对路径、卷名和父级逃逸。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.dir, rel), nil
	}
	switch {
	case rel == ".", rel == "..":
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel), filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.dir, rel), nil
}

func sinkErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", contract.ErrSinkWrite, op, path, err)
}

// file: 每次 Write 前检查 ctx 是否已取消。
type file struct {
	ctx context.Context
	f   *os.File
}

func (f *file) Write(p []byte) (int, error) {
	if err := f.ctx.Err(); err != nil {
		return 0, err
	}
	return f.f.Write(p)
}

func (f *file) Close() error {
	if err := f.f.Close(); err != nil {
		return sinkErr("close", f.f.Name(), err)
	}
	return nil
}

// atomicFile: Close 时 fsync、rename 到目标；任一步失败都删除临时文件，目标保持旧内容。
type atomicFile struct {
	file
	dest string
}

func (a *atomicFile) Close() error {
	tmp := a.f.Name()
	if err := a.f.Sync(); err != nil {
		_ = a.f.Close()
		_ = os.Remove(tmp)
		return sinkErr("sync", tmp, err)
	}
	if err := a.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return sinkErr("close", tmp, err)
	}
	// Windows 上 os.Rename 以 MOVEFILE_REPLACE_EXISTING 覆盖已有目标
	if err := os.Rename(tmp, a.dest); err != nil {
		_ = os.Remove(tmp)
		return sinkErr("replace", a.dest, err)
	}
	syncDir(filepath.Dir(a.dest))
	return nil
}

// syncDir 尽力持久化目录项；Windows 上打开目录做 Sync 会失败，忽略即可。
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
