package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/titanous/json5"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// layers lists the files read for a config name, lowest priority first.
// "config.json5" resolves to config.json5 and then config.local.json5.
func layers(name string) []string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return []string{name, base + ".local" + ext}
}

// readLayer decodes a single file, found is false when it does not exist or
// is empty.
func readLayer[T any](path string) (layer T, found bool, err error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return layer, false, nil
	}
	if err != nil {
		return layer, false, err
	}
	if len(contents) == 0 {
		return layer, false, nil
	}
	err = json5.Unmarshal(contents, &layer)
	if err != nil {
		return layer, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, true, nil
}

// ReadConfig reads name along with its ".local" overlay, fields set in the
// overlay win. It returns os.ErrNotExist when neither file exists.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found := false
	for _, path := range layers(name) {
		layer, ok, err := readLayer[T](path)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		if !found {
			out = layer
			found = true
			continue
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", path, err)
		}
		slog.Debug("merged config overlay", "path", path)
	}
	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively is ReadConfig tried in the working directory and then in
// each parent up to the filesystem root.
func ReadRecursively[T any](name string) (T, error) {
	var out T
	current, err := os.Getwd()
	if err != nil {
		return out, err
	}
	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return out, err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return out, os.ErrNotExist
		}
		current = parent
	}
}

// Validate checks `validate` struct tags on a config value.
func Validate(v any) error {
	return validate.Struct(v)
}
