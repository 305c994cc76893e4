package stores

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDir 默认产物目录
var DefaultDir = "./artifacts"

type LocalStore struct {
	Root       string
	NewDirPerm os.FileMode
}

func NewLocalStore(root string) *LocalStore {
	if root == "" {
		root = DefaultDir
	}
	return &LocalStore{
		Root:       root,
		NewDirPerm: 0755,
	}
}

// path 解析 key 对应的文件路径，拒绝越出 Root 的 key
func (l *LocalStore) path(key string) (string, error) {
	// 确保Root是绝对路径
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", err
	}

	fname := filepath.Clean(filepath.Join(root, key))
	if fname == root || !strings.HasPrefix(fname, root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return fname, nil
}

// Delete implements Store.
func (l *LocalStore) Delete(key string) error {
	fname, err := l.path(key)
	if err != nil {
		return err
	}
	return os.Remove(fname)
}

// Exists implements Store.
func (l *LocalStore) Exists(key string) (bool, error) {
	fname, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Read implements Store.
func (l *LocalStore) Read(key string) (io.ReadCloser, int64, error) {
	fname, err := l.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(fname)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

// Write implements Store. The file is written next to its final name and
// renamed into place, so readers never see a partial artifact.
func (l *LocalStore) Write(key string, r io.Reader) error {
	fname, err := l.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fname)
	if err := os.MkdirAll(dir, l.NewDirPerm); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(fname)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, fname); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
