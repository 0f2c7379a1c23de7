package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Secrets resolves named credentials such as EBAY_CLIENT_ID.
type Secrets interface {
	Get(name string) (string, bool)
}

// EnvSecrets reads secrets from the process environment.
type EnvSecrets struct{}

func (EnvSecrets) Get(name string) (string, bool) {
	return nonBlank(os.Getenv(name))
}

// MapSecrets serves secrets from a fixed map. Useful in tests.
type MapSecrets map[string]string

func (m MapSecrets) Get(name string) (string, bool) {
	return nonBlank(m[name])
}

// FileSecrets serves secrets parsed from a dotenv-format file without
// touching the process environment.
type FileSecrets struct {
	values map[string]string
}

// NewFileSecrets reads the dotenv file at path.
func NewFileSecrets(path string) (*FileSecrets, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	return &FileSecrets{values: values}, nil
}

func (f *FileSecrets) Get(name string) (string, bool) {
	return nonBlank(f.values[name])
}

// ChainSecrets consults each source in order and returns the first value.
type ChainSecrets []Secrets

func (c ChainSecrets) Get(name string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

func nonBlank(v string) (string, bool) {
	if strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
