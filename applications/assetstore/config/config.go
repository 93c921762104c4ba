package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	BackendMemory       = "memory"
	BackendLocalFS      = "local-fs"
	BackendObjectStoreA = "object-store-a"
	BackendObjectStoreB = "object-store-b"

	MetadataMemory = "memory"
	MetadataBadger = "badger"
)

const defaultOperationTimeout = 30 * time.Second

type Server struct {
	API      Api      `yaml:"api"`
	Storage  Storage  `yaml:"storage"`
	Metadata Metadata `yaml:"metadata"`
}

type Api struct {
	HTTPAddr string `yaml:"http_addr"`
}

// Storage selects the backend once at startup. Credentials are passed to the backend as is:
// object-store-a reads region, endpoint, access_key_id, secret_access_key, session_token and
// use_path_style; object-store-b reads credentials_file and endpoint.
type Storage struct {
	Backend          string            `yaml:"backend"`
	BucketOrRootPath string            `yaml:"bucket_or_root_path"`
	Credentials      map[string]string `yaml:"credentials"`
	// OperationTimeout bounds a backend call. Asset streams time out only after this long
	// without progress.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	QuotaBytes       int64         `yaml:"quota_bytes"`
}

type Metadata struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Parse reads the YAML file at path and fills in defaults for omitted storage settings.
func Parse(path string) (Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("can't read config file: %w", err)
	}

	var cfg Server
	if err = yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("can't unmarshal config: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

func (s *Server) setDefaults() {
	if s.Storage.Backend == "" {
		s.Storage.Backend = BackendMemory
	}
	if s.Storage.OperationTimeout == 0 {
		s.Storage.OperationTimeout = defaultOperationTimeout
	}
	if s.Metadata.Driver == "" {
		s.Metadata.Driver = MetadataMemory
	}
}

func (s Server) Validate() error {
	if s.API.HTTPAddr == "" {
		return errors.New("api.http_addr is required")
	}

	switch s.Storage.Backend {
	case BackendMemory:
	case BackendLocalFS, BackendObjectStoreA, BackendObjectStoreB:
		if s.Storage.BucketOrRootPath == "" {
			return fmt.Errorf("storage.bucket_or_root_path is required for backend %q", s.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	}

	if s.Storage.OperationTimeout < 0 {
		return errors.New("storage.operation_timeout must not be negative")
	}
	if s.Storage.QuotaBytes < 0 {
		return errors.New("storage.quota_bytes must not be negative")
	}

	switch s.Metadata.Driver {
	case MetadataMemory:
	case MetadataBadger:
		if s.Metadata.Path == "" {
			return errors.New("metadata.path is required for the badger driver")
		}
	default:
		return fmt.Errorf("unknown metadata driver %q", s.Metadata.Driver)
	}

	return nil
}
