package archive

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Archive 上传工作簿的本地归档目录
// 归档名为随机十六进制串加原扩展名，避免上传同名文件互相覆盖
type Archive struct {
	dir string
}

// New 创建归档目录，不存在时自动建立
func New(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Save 归档一份文件，返回归档文件名
func (a *Archive) Save(filename string, r io.Reader) (string, error) {
	id, err := randomID()
	if err != nil {
		return "", fmt.Errorf("failed to generate archive id: %w", err)
	}

	archived := id + filepath.Ext(filename)
	fullPath := filepath.Join(a.dir, archived)

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}

	return archived, nil
}

// Open 打开归档文件
func (a *Archive) Open(archived string) (*os.File, error) {
	f, err := os.Open(filepath.Join(a.dir, archived))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	return f, nil
}

// Delete 删除归档文件，文件不存在视为成功
func (a *Archive) Delete(archived string) error {
	if archived == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(a.dir, archived)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archive file: %w", err)
	}
	return nil
}

// FullPath 归档文件的完整路径
func (a *Archive) FullPath(archived string) string {
	return filepath.Join(a.dir, archived)
}

func randomID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
