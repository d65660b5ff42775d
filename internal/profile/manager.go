// Package profile manages the profile lifecycle and hands out one sync
// engine per profile. Profiles isolate tracked sets and repositories from
// each other; switching the active profile never touches the others.
package profile

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

// BackendOpener opens (or initializes) the repository backend for a profile.
type BackendOpener func(p config.Profile) (repo.Backend, error)

// Manager owns the loaded configuration and builds engines on demand.
// Engines are cached per profile id so the busy lock is shared by every
// caller operating on the same profile.
type Manager struct {
	env     *util.Env
	cfgPath string
	home    string
	cfg     *config.Config
	open    BackendOpener

	engines    map[string]*engine.Engine
	registries map[string]*registry.Registry
}

// NewManager loads the configuration at cfgPath and returns a manager.
// Returns config.ErrNotInitialized when the file does not exist.
func NewManager(env *util.Env, cfgPath, home string, open BackendOpener) (*Manager, error) {
	cfg, err := config.Load(env.Fs, cfgPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		env:        env,
		cfgPath:    cfgPath,
		home:       home,
		cfg:        cfg,
		open:       open,
		engines:    map[string]*engine.Engine{},
		registries: map[string]*registry.Registry{},
	}, nil
}

// Config exposes the loaded configuration.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// ActiveName returns the name of the active profile.
func (m *Manager) ActiveName() string {
	return m.cfg.ActiveProfile
}

// List returns all profiles in configuration order.
func (m *Manager) List() []config.Profile {
	return m.cfg.Profiles
}

// Find returns the named profile, or ErrProfileNotFound.
func (m *Manager) Find(name string) (*config.Profile, error) {
	p := m.cfg.FindProfile(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// Registry returns the tracked-path registry of the named profile, building
// it from configuration on first use.
func (m *Manager) Registry(name string) (*registry.Registry, error) {
	p, err := m.Find(name)
	if err != nil {
		return nil, err
	}
	if reg, ok := m.registries[p.ID]; ok {
		return reg, nil
	}
	reg, err := registry.FromConfig(m.env, m.home, p.Entries)
	if err != nil {
		return nil, err
	}
	m.registries[p.ID] = reg
	return reg, nil
}

// Engine returns the sync engine of the named profile, building it on first
// use. The same profile always yields the same engine instance.
func (m *Manager) Engine(name string) (*engine.Engine, error) {
	p, err := m.Find(name)
	if err != nil {
		return nil, err
	}
	if eng, ok := m.engines[p.ID]; ok {
		return eng, nil
	}
	reg, err := m.Registry(name)
	if err != nil {
		return nil, err
	}
	backend, err := m.open(*p)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository for profile %q: %w", name, err)
	}
	detector := engine.NewDetector(m.env, m.cfg.Settings.Exclude)
	eng := engine.New(p.ID, m.env, reg, backend, detector)
	m.engines[p.ID] = eng
	return eng, nil
}

// Active returns the engine of the active profile.
func (m *Manager) Active() (*engine.Engine, error) {
	return m.Engine(m.cfg.ActiveProfile)
}

// Switch changes the active profile and persists the change. Refused while
// the current active profile's engine is mid-operation.
func (m *Manager) Switch(name string) error {
	if _, err := m.Find(name); err != nil {
		return err
	}
	if cur := m.cfg.Active(); cur != nil {
		if eng, ok := m.engines[cur.ID]; ok && eng.Busy() {
			return fmt.Errorf("%w: profile %q has an operation in flight",
				engine.ErrEngineBusy, cur.Name)
		}
	}
	m.cfg.ActiveProfile = name
	return m.Save()
}

// Create adds a new profile with a fresh identity and persists it. The new
// profile starts empty and does not become active.
func (m *Manager) Create(name, remote string) (*config.Profile, error) {
	if name == "" {
		return nil, fmt.Errorf("profile name must not be empty")
	}
	if m.cfg.FindProfile(name) != nil {
		return nil, fmt.Errorf("%w: %q", ErrProfileCollision, name)
	}
	m.cfg.Profiles = append(m.cfg.Profiles, config.Profile{
		ID:     uuid.NewString(),
		Name:   name,
		Remote: remote,
	})
	if err := m.Save(); err != nil {
		return nil, err
	}
	return m.cfg.FindProfile(name), nil
}

// Delete removes a profile. When the profile still holds data that would be
// lost (unpushed records, or any history on a local-only profile), the call
// fails with ErrConfirmationRequired unless confirmed is set. The active
// profile cannot be deleted; switch away first.
func (m *Manager) Delete(ctx context.Context, name string, confirmed bool) error {
	p, err := m.Find(name)
	if err != nil {
		return err
	}
	if name == m.cfg.ActiveProfile {
		return fmt.Errorf("cannot delete the active profile %q, switch to another profile first", name)
	}

	if !confirmed {
		if err := m.checkDataLoss(ctx, *p); err != nil {
			return err
		}
	}

	if eng, ok := m.engines[p.ID]; ok && eng.Busy() {
		return fmt.Errorf("%w: profile %q has an operation in flight", engine.ErrEngineBusy, name)
	}
	delete(m.engines, p.ID)
	delete(m.registries, p.ID)
	m.cfg.RemoveProfile(name)
	return m.Save()
}

// checkDataLoss reports whether deleting p would lose backup data.
func (m *Manager) checkDataLoss(ctx context.Context, p config.Profile) error {
	backend, err := m.open(p)
	if err != nil {
		// No repository means nothing to lose.
		return nil
	}
	if backend.HasRemote() {
		ahead, err := backend.Ahead(ctx)
		if err != nil {
			return err
		}
		if ahead > 0 {
			return fmt.Errorf("%w: profile %q has %d unpushed backup(s)",
				ErrConfirmationRequired, p.Name, ahead)
		}
		return nil
	}
	history, err := backend.History(ctx)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		return fmt.Errorf("%w: profile %q is local-only and holds %d backup(s)",
			ErrConfirmationRequired, p.Name, len(history))
	}
	return nil
}

// SaveRegistry writes the in-memory registry of the named profile back into
// the configuration and persists it.
func (m *Manager) SaveRegistry(name string) error {
	p, err := m.Find(name)
	if err != nil {
		return err
	}
	reg, ok := m.registries[p.ID]
	if !ok {
		return nil
	}
	p.Entries = reg.ToConfig()
	return m.Save()
}

// Save persists the configuration.
func (m *Manager) Save() error {
	return config.Save(m.env.Fs, m.cfgPath, m.cfg)
}
