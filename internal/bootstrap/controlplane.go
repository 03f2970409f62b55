package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/MicKaranja/cms/internal/authz"
	"github.com/MicKaranja/cms/internal/monitor"
	"github.com/MicKaranja/cms/internal/notify"
	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/internal/rpc"
	"github.com/MicKaranja/cms/internal/state"
	"github.com/MicKaranja/cms/internal/storage"
	"github.com/MicKaranja/cms/internal/upload"
)

// ControlPlane bundles everything the admin server needs, wired from
// the environment.
type ControlPlane struct {
	Registry      *registry.Registry
	Dispatcher    *rpc.Dispatcher
	Pool          *rpc.Pool
	Gate          *authz.Gate
	Store         state.Store
	Files         storage.FileStore
	Uploads       *upload.Coordinator
	Notifications *notify.Queue
	Monitor       *monitor.Monitor
}

func NewControlPlaneFromEnv(ctx context.Context) (*ControlPlane, error) {
	servicesFile := getenv("CMS_SERVICES_FILE", "services.yaml")
	reg, err := registry.LoadFromFile(servicesFile)
	if err != nil {
		return nil, fmt.Errorf("load service registry: %w", err)
	}

	gate, err := authz.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load rpc allow-list: %w", err)
	}

	dispatcher := rpc.NewDispatcher()
	rpcTimeout := time.Duration(getenvInt("CMS_RPC_TIMEOUT_SECONDS", 30)) * time.Second
	pool := rpc.NewPool(reg, dispatcher, rpcTimeout)

	store, err := newStore(getenv("CMS_STORE", "memory"))
	if err != nil {
		pool.Close()
		dispatcher.Close()
		return nil, err
	}

	files, err := newFileStore(ctx, getenv("CMS_FILE_STORE", "rpc"), pool)
	if err != nil {
		pool.Close()
		dispatcher.Close()
		return nil, err
	}

	notifications := notify.NewQueue()
	interval := time.Duration(getenvInt("CMS_RESOURCE_POLL_SECONDS", 10)) * time.Second
	mon := monitor.New(reg, pool, notifications, interval)

	return &ControlPlane{
		Registry:      reg,
		Dispatcher:    dispatcher,
		Pool:          pool,
		Gate:          gate,
		Store:         store,
		Files:         files,
		Uploads:       upload.NewCoordinator(),
		Notifications: notifications,
		Monitor:       mon,
	}, nil
}

// Close tears the RPC layer down. Pending calls complete with a
// channel-closed error through their callbacks first.
func (cp *ControlPlane) Close() {
	cp.Pool.Close()
	cp.Dispatcher.Close()
	if closer, ok := cp.Store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func newStore(kind string) (state.Store, error) {
	switch kind {
	case "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		path := os.Getenv("CMS_SQLITE_PATH")
		if path == "" {
			return nil, fmt.Errorf("CMS_SQLITE_PATH is required when CMS_STORE=sqlite")
		}
		return state.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported CMS_STORE value %q", kind)
	}
}

func newFileStore(ctx context.Context, kind string, pool *rpc.Pool) (storage.FileStore, error) {
	switch kind {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "rpc":
		return storage.NewRPCStore(pool), nil
	case "minio":
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  os.Getenv("CMS_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("CMS_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("CMS_MINIO_SECRET_KEY"),
			Bucket:    getenv("CMS_MINIO_BUCKET", "cms-files"),
			UseSSL:    getenvBool("CMS_MINIO_USE_SSL", false),
		})
	default:
		return nil, fmt.Errorf("unsupported CMS_FILE_STORE value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
