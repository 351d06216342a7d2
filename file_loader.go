package dlink

import (
	"errors"
	"os"
)

// FileLoader is the portable ByteLoader: os.ReadFile into a heap buffer
// the caller (Open/LoadMap) subsequently owns and must eventually release.
type FileLoader struct{}

func (FileLoader) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wrapErr(File, err)
		}
		return nil, wrapErr(FileRead, err)
	}
	return data, nil
}
