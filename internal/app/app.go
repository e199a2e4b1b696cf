// Package app assembles the repair engine from configuration. It is shared
// by the repair-engine service and the repairctl command.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"

	"github.com/labfleet/repair-engine/internal/coordination"
	"github.com/labfleet/repair-engine/internal/fleet"
	"github.com/labfleet/repair-engine/internal/integrations"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/internal/labstation"
	"github.com/labfleet/repair-engine/internal/rbac"
	"github.com/labfleet/repair-engine/internal/repair"
	"github.com/labfleet/repair-engine/internal/store"
	"github.com/labfleet/repair-engine/pkg/config"
)

// memoryHistoryPerHost bounds the in-memory diagnosis history
const memoryHistoryPerHost = 50

// App holds the assembled components
type App struct {
	Config      *config.Config
	Inventory   inventory.Store
	Coordinator *coordination.Coordinator
	Diagnoses   store.Store

	// Power is nil when no power service is configured
	Power *integrations.PowerClient
	// Access is nil unless the inventory is read from ConfigMaps
	Access *rbac.Verifier

	log *logrus.Logger
}

// Option customizes New
type Option func(*options)

type options struct {
	clientset kubernetes.Interface
	hosts     coordination.HostFactory
}

// WithClientset uses clientset instead of building one from the environment
func WithClientset(clientset kubernetes.Interface) Option {
	return func(o *options) { o.clientset = clientset }
}

// WithHostFactory replaces the SSH/local host factory
func WithHostFactory(hosts coordination.HostFactory) Option {
	return func(o *options) { o.hosts = hosts }
}

// New builds every component described by cfg
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, log: log}

	if err := a.initInventory(ctx, &o); err != nil {
		return nil, err
	}

	if cfg.PowerServiceURL != "" {
		a.Power = integrations.NewPowerClient(cfg.PowerServiceURL, cfg.HTTPTimeout, log)
		log.WithField("power_service_url", cfg.PowerServiceURL).Info("Power service client initialized")
	} else {
		log.Warn("POWER_SERVICE_URL not set, rpm repair disabled")
	}

	diagnoses, err := openStore(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Diagnoses = diagnoses

	hosts := o.hosts
	if hosts == nil {
		hosts = coordination.NewHostFactory(cfg, a.Inventory, log)
	}
	engine := repair.NewEngine(log, repair.WithDefaultTimeout(cfg.RunTimeout))
	a.Coordinator = coordination.NewCoordinator(a.Inventory, hosts, engine, diagnoses, cfg.RunTimeout, log)

	// A nil *PowerClient must not become a non-nil interface.
	var power labstation.PowerCycler
	if a.Power != nil {
		power = a.Power
	}
	strategy, err := labstation.NewStrategy(labstation.OptionsFromConfig(cfg), power, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build labstation strategy: %w", err)
	}
	a.Coordinator.Register(labstation.Class, strategy)

	log.WithFields(logrus.Fields{
		"inventory_source": cfg.InventorySource,
		"diagnosis_store":  cfg.DiagnosisStore,
		"strategy":         strategy.Name(),
		"order":            strategy.Order(),
	}).Info("Repair engine assembled")

	return a, nil
}

func (a *App) initInventory(ctx context.Context, o *options) error {
	cfg := a.Config
	switch cfg.InventorySource {
	case config.InventorySourceConfigMap:
		clientset := o.clientset
		if clientset == nil {
			cs, restConfig, err := NewKubernetesClient(cfg, a.log)
			if err != nil {
				return fmt.Errorf("failed to initialize Kubernetes client: %w", err)
			}
			a.log.WithField("cluster_host", restConfig.Host).Info("Kubernetes client initialized")
			clientset = cs
		}

		a.Access = rbac.NewVerifier(clientset, cfg.Namespace, a.log)
		if err := a.Access.CheckCriticalPermissions(ctx); err != nil {
			return fmt.Errorf("inventory not readable: %w", err)
		}
		a.Inventory = inventory.NewConfigMapStore(clientset, cfg.Namespace, a.log)
	default:
		fs, err := inventory.NewFileStore(cfg.InventoryFile)
		if err != nil {
			return err
		}
		a.Inventory = fs
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (store.Store, error) {
	if cfg.DiagnosisStore == config.DiagnosisStoreSQLite {
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open diagnosis store: %w", err)
		}
		return s, nil
	}
	return store.NewMemoryStore(memoryHistoryPerHost), nil
}

// Sweeper returns a fleet sweeper over the coordinator
func (a *App) Sweeper() *fleet.Sweeper {
	return fleet.NewSweeper(a.Coordinator, a.Inventory, a.Config.MaxConcurrentRuns, a.Config.SweepRate, a.log)
}

// Close waits for background jobs and releases clients and storage
func (a *App) Close() error {
	if a.Coordinator != nil {
		a.Coordinator.Wait()
	}
	if a.Power != nil {
		a.Power.Close()
	}
	var errs []error
	if a.Diagnoses != nil {
		if err := a.Diagnoses.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close diagnosis store: %w", err))
		}
	}
	return errors.Join(errs...)
}
