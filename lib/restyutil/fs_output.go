package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes one file per exchange into a directory, named after
// the message id and the requested page so a failing parser's input can be
// found by endpoint.
type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(name string, contents string) {
	target := filepath.Join(o.directory, name+".txt")
	err := os.WriteFile(target, []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write http dump", "path", target, "err", err)
	}
}
