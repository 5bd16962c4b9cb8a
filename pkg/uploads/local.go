package uploads

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStorage 写入本地目录，通过静态路由对外提供
type LocalStorage struct {
	root         string
	publicPrefix string
}

// NewLocalStorage 创建本地存储并确保目录存在
func NewLocalStorage(root, publicPrefix string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if publicPrefix == "" {
		publicPrefix = "/uploads"
	}
	return &LocalStorage{root: root, publicPrefix: "/" + strings.Trim(publicPrefix, "/")}, nil
}

// Root 存储根目录
func (s *LocalStorage) Root() string { return s.root }

// PublicPrefix 对外访问前缀
func (s *LocalStorage) PublicPrefix() string { return s.publicPrefix }

// resolve 将对象名限制在根目录内
func (s *LocalStorage) resolve(name string) (clean, dst string) {
	clean = path.Clean("/" + name)
	return clean, filepath.Join(s.root, filepath.FromSlash(clean))
}

func (s *LocalStorage) Save(ctx context.Context, name string, r io.Reader, size int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, dst := s.resolve(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size > 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return s.publicPrefix + clean, nil
}

func (s *LocalStorage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, dst := s.resolve(name)
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload file: %w", err)
	}
	return nil
}
