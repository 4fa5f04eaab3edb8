// Package tfsdb removes the SQL Server database left behind when a team
// collection is detached.
package tfsdb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/softwareforge/forge/internal/config"
	"github.com/softwareforge/forge/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidName is returned for collection names that cannot be used as
// a database identifier.
var ErrInvalidName = errors.New("invalid collection database name")

// Collection names become bracketed identifiers and N'' literals, so
// brackets and quotes are never allowed. Letters and digits may be from
// any script.
var namePattern = regexp.MustCompile(`^[\p{L}\p{N}_.\- ]+$`)

// maxNameLen is the length of a SQL Server sysname, in characters.
const maxNameLen = 128

const dropStatement = `IF DB_ID(N'%[1]s') IS NOT NULL
BEGIN
	ALTER DATABASE [%[1]s] SET SINGLE_USER WITH ROLLBACK IMMEDIATE;
	DROP DATABASE [%[1]s];
END`

// Remover drops a collection database. DatabaseName lets callers check
// a collection name before anything irreversible happens to it.
type Remover interface {
	DatabaseName(collectionName string) (string, error)
	RemoveDatabase(ctx context.Context, collectionName string) error
}

// Execer runs a statement. *gorm.DB is adapted by GormExecer.
type Execer interface {
	Exec(ctx context.Context, statement string) error
}

// GormExecer runs statements through gorm.
type GormExecer struct {
	DB *gorm.DB
}

func (g GormExecer) Exec(ctx context.Context, statement string) error {
	return g.DB.WithContext(ctx).Exec(statement).Error
}

// Controller drops "<prefix><collection>" databases.
type Controller struct {
	exec   Execer
	prefix string
	logger *zap.Logger
}

// NewController creates a Controller that runs statements with exec.
func NewController(exec Execer, prefix string, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{exec: exec, prefix: prefix, logger: logger}
}

// DatabaseName returns the database that backs collectionName.
func (c *Controller) DatabaseName(collectionName string) (string, error) {
	name := c.prefix + collectionName
	if !namePattern.MatchString(name) || utf8.RuneCountInString(name) > maxNameLen ||
		strings.TrimSpace(collectionName) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, collectionName)
	}
	return name, nil
}

// RemoveDatabase kicks every session off the collection database and drops
// it. A database that no longer exists is not an error.
func (c *Controller) RemoveDatabase(ctx context.Context, collectionName string) error {
	name, err := c.DatabaseName(collectionName)
	if err != nil {
		return err
	}
	if err := c.exec.Exec(ctx, fmt.Sprintf(dropStatement, name)); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", name, err)
	}
	c.logger.Info("collection database dropped", zap.String("database", name))
	return nil
}

// Nop leaves collection databases in place.
type Nop struct {
	Logger *zap.Logger
}

// DatabaseName accepts any non-blank name, since nothing is dropped.
func (n Nop) DatabaseName(collectionName string) (string, error) {
	if strings.TrimSpace(collectionName) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, collectionName)
	}
	return collectionName, nil
}

func (n Nop) RemoveDatabase(_ context.Context, collectionName string) error {
	if n.Logger != nil {
		n.Logger.Info("collection database removal disabled, leaving database in place",
			zap.String("collection", collectionName))
	}
	return nil
}

// Open returns a Remover for cfg and a function releasing its connection.
// A disabled config yields Nop.
func Open(cfg config.CollectionDBConfig, logger *zap.Logger) (Remover, func() error, error) {
	if !cfg.Enabled {
		return Nop{Logger: logger}, func() error { return nil }, nil
	}
	db, err := store.Open(config.DatabaseConfig{Driver: config.DriverSQLServer, DSN: cfg.DSN}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("collection database server: %w", err)
	}
	return NewController(GormExecer{DB: db}, cfg.Prefix, logger), func() error { return store.Close(db) }, nil
}
