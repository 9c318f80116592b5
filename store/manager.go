// Package store manages isolated per-phase backing stores.
//
// Each phase runs against its own PostgreSQL database: fresh-empty phases
// get a newly created database, clone phases get a copy of the reference
// database created by template, and tour/UI phases additionally get a
// non-destructive filestore link into the reference filestore. Teardown is
// best-effort and treats absent objects as success so a mid-phase failure
// never leaks a store.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pithecene-io/proctor/log"
	"github.com/pithecene-io/proctor/types"
)

// Conn is the administrative connection surface. *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// Connector opens administrative connections by database name.
type Connector interface {
	Connect(ctx context.Context, database string) (Conn, error)
}

// ErrIsolationRequired reports a prepare failure for a phase whose
// isolation mode is required for correctness. Such phases abort instead of
// falling back to the shared default store, since shared state would
// invalidate the phase's guarantees.
var ErrIsolationRequired = errors.New("store isolation required but preparation failed")

// Handle identifies a prepared backing store.
type Handle struct {
	// Database is the database name the phase's process must use.
	Database string
	// Isolation records the mode the store was prepared under.
	Isolation types.IsolationMode
	// FellBack is set when preparation failed and the phase was allowed to
	// reuse the default store.
	FellBack bool

	// linkPath is the filestore symlink to remove on teardown, if any.
	linkPath string
}

// Config configures the lifecycle manager.
type Config struct {
	// Prefix namespaces phase databases, e.g. "proctor" yields
	// "proctor_unit". Required.
	Prefix string
	// DefaultDatabase is the shared store used by isolation mode none and
	// by the fallback path.
	DefaultDatabase string
	// ReferenceDatabase is the clone template source.
	ReferenceDatabase string
	// FilestoreRoot is the directory containing per-database filestores.
	// Empty disables filestore linking.
	FilestoreRoot string
	// InitStatements run on a freshly created empty database, in order.
	InitStatements []string
}

// Manager creates, clones, links, and destroys per-phase stores.
type Manager struct {
	config    Config
	connector Connector
	logger    *log.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(config Config, connector Connector, logger *log.Logger) (*Manager, error) {
	if config.Prefix == "" {
		return nil, errors.New("store prefix is required")
	}
	if connector == nil {
		return nil, errors.New("connector is required")
	}
	return &Manager{config: config, connector: connector, logger: logger}, nil
}

// DatabaseFor returns the database name a phase's store would use.
func (m *Manager) DatabaseFor(desc types.PhaseDescriptor) string {
	return m.config.Prefix + "_" + desc.Name
}

// Prepare provisions the phase's backing store.
//
// Isolation none returns the default store untouched. For fresh-empty and
// clone modes a preparation failure wraps ErrIsolationRequired: those
// phases abort rather than risk state leakage through the default store.
func (m *Manager) Prepare(ctx context.Context, desc types.PhaseDescriptor) (*Handle, error) {
	if desc.Isolation == types.IsolationNone || desc.Isolation == "" {
		return &Handle{Database: m.config.DefaultDatabase, Isolation: types.IsolationNone}, nil
	}

	name := m.DatabaseFor(desc)
	handle := &Handle{Database: name, Isolation: desc.Isolation}

	var err error
	switch desc.Isolation {
	case types.IsolationFreshEmpty:
		err = m.prepareFreshEmpty(ctx, name)
	case types.IsolationClone:
		err = m.prepareClone(ctx, name)
		if err == nil && desc.LinkFilestore {
			handle.linkPath, err = m.linkFilestore(name)
		}
	default:
		err = fmt.Errorf("unknown isolation mode %q", desc.Isolation)
	}

	if err != nil {
		m.logger.Error("store preparation failed", map[string]any{
			"database":  name,
			"isolation": string(desc.Isolation),
			"error":     err.Error(),
		})
		if desc.Isolation.RequiredForCorrectness() {
			return nil, fmt.Errorf("%w: %s: %v", ErrIsolationRequired, name, err)
		}
		// Remaining modes may reuse the shared default store.
		m.logger.Warn("falling back to default store", map[string]any{
			"database": m.config.DefaultDatabase,
		})
		return &Handle{Database: m.config.DefaultDatabase, Isolation: desc.Isolation, FellBack: true}, nil
	}

	m.logger.Info("store prepared", map[string]any{
		"database":  name,
		"isolation": string(desc.Isolation),
	})
	return handle, nil
}

// Teardown removes the phase's store. Best-effort: the link is removed
// first, then connections are terminated and the database dropped. Absent
// objects are success, and errors are logged rather than returned so the
// orchestrator's cleanup path never raises.
func (m *Manager) Teardown(ctx context.Context, handle *Handle) {
	if handle == nil || handle.Isolation == types.IsolationNone || handle.FellBack {
		return
	}

	if handle.linkPath != "" {
		if err := m.unlinkFilestore(handle.linkPath); err != nil {
			m.logger.Warn("filestore unlink failed", map[string]any{
				"path":  handle.linkPath,
				"error": err.Error(),
			})
		}
	}

	admin, err := m.connector.Connect(ctx, m.maintenanceDB())
	if err != nil {
		m.logger.Warn("teardown connect failed", map[string]any{
			"database": handle.Database,
			"error":    err.Error(),
		})
		return
	}
	defer func() { _ = admin.Close(ctx) }()

	if err := terminateConnections(ctx, admin, handle.Database); err != nil {
		m.logger.Warn("terminate connections failed", map[string]any{
			"database": handle.Database,
			"error":    err.Error(),
		})
	}
	if err := dropIfExists(ctx, admin, handle.Database); err != nil {
		m.logger.Warn("drop database failed", map[string]any{
			"database": handle.Database,
			"error":    err.Error(),
		})
		return
	}
	m.logger.Info("store torn down", map[string]any{"database": handle.Database})
}

// prepareFreshEmpty drops any leftover database, creates it empty, and runs
// the configured init statements on it.
func (m *Manager) prepareFreshEmpty(ctx context.Context, name string) error {
	admin, err := m.connector.Connect(ctx, m.maintenanceDB())
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer func() { _ = admin.Close(ctx) }()

	if err := terminateConnections(ctx, admin, name); err != nil {
		return err
	}
	if err := dropIfExists(ctx, admin, name); err != nil {
		return err
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+quoteIdent(name)); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}

	if len(m.config.InitStatements) == 0 {
		return nil
	}

	target, err := m.connector.Connect(ctx, name)
	if err != nil {
		return fmt.Errorf("connect new database %s: %w", name, err)
	}
	defer func() { _ = target.Close(ctx) }()

	for _, stmt := range m.config.InitStatements {
		if _, err := target.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init statement %q: %w", stmt, err)
		}
	}
	return nil
}

// prepareClone drops any leftover target and clones the reference database
// by template. Active connections on both source and target block the
// clone, so they are terminated first.
func (m *Manager) prepareClone(ctx context.Context, name string) error {
	if m.config.ReferenceDatabase == "" {
		return errors.New("no reference database configured")
	}

	admin, err := m.connector.Connect(ctx, m.maintenanceDB())
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer func() { _ = admin.Close(ctx) }()

	if err := terminateConnections(ctx, admin, m.config.ReferenceDatabase); err != nil {
		return err
	}
	if err := terminateConnections(ctx, admin, name); err != nil {
		return err
	}
	if err := dropIfExists(ctx, admin, name); err != nil {
		return err
	}

	sql := fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s",
		quoteIdent(name), quoteIdent(m.config.ReferenceDatabase))
	if _, err := admin.Exec(ctx, sql); err != nil {
		return fmt.Errorf("clone %s from %s: %w", name, m.config.ReferenceDatabase, err)
	}
	return nil
}

// linkFilestore creates a symlink from the phase's filestore namespace to
// the reference's. The referenced data is never touched.
func (m *Manager) linkFilestore(name string) (string, error) {
	if m.config.FilestoreRoot == "" {
		return "", nil
	}
	source := filepath.Join(m.config.FilestoreRoot, m.config.ReferenceDatabase)
	target := filepath.Join(m.config.FilestoreRoot, name)

	// A leftover link from a previous run is replaced; a real directory in
	// the way is an error (never destroy data to make room for a link).
	if info, err := os.Lstat(target); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return "", fmt.Errorf("filestore path %s exists and is not a link", target)
		}
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("replace stale filestore link: %w", err)
		}
	}

	if err := os.Symlink(source, target); err != nil {
		return "", fmt.Errorf("link filestore %s -> %s: %w", target, source, err)
	}
	return target, nil
}

// unlinkFilestore removes only the link, never the referenced data.
func (m *Manager) unlinkFilestore(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("refusing to remove non-link filestore path %s", path)
	}
	return os.Remove(path)
}

func (m *Manager) maintenanceDB() string {
	return "postgres"
}

// terminateConnections disconnects every session on the named database.
// Databases with no sessions (or that do not exist) terminate zero rows,
// which is success.
func terminateConnections(ctx context.Context, admin Conn, database string) error {
	const sql = `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`
	if _, err := admin.Exec(ctx, sql, database); err != nil {
		return fmt.Errorf("terminate connections to %s: %w", database, err)
	}
	return nil
}

func dropIfExists(ctx context.Context, admin Conn, database string) error {
	if _, err := admin.Exec(ctx, "DROP DATABASE IF EXISTS "+quoteIdent(database)); err != nil {
		return fmt.Errorf("drop database %s: %w", database, err)
	}
	return nil
}

// quoteIdent safely quotes a database identifier. CREATE/DROP DATABASE do
// not accept bind parameters, so identifiers are sanitized instead.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
