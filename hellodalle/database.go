package hellodalle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	columnBotStateEngine            = "engine"
	columnBotStateWildcard          = "wildcard"
	columnBotStatePFPAnyone         = "pfp_anyone"
	columnBotStateGenderSensitivity = "gender_sensitivity"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps (in
// milliseconds) for creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// ImageDescription is a cached avatar analysis, keyed by the SHA-256
// digest of the image bytes. The same image never gets described twice,
// regardless of which user or URL it arrived from.
type ImageDescription struct {
	// Hash is the lowercase hex SHA-256 digest of the image content
	Hash string `gorm:"primaryKey" json:"hash"`

	// Description is the short subject description used to seed prompts
	Description string `json:"description"`

	// Source identifies the analyzer that produced the description
	// ("gemini", "openai" or "fallback")
	Source string `json:"source"`

	ModelUnixTime
}

// WelcomeCount tracks how many welcome images have been generated, so
// each welcome image filename gets a stable increasing suffix.
type WelcomeCount struct {
	ModelUintID
	Count int `json:"count"`
}

// BotState holds the runtime-adjustable settings that survive restarts.
// A single row is maintained; command handlers and the config API update
// it in place.
type BotState struct {
	ModelUintID
	ModelUnixTime

	// Engine is the currently selected default image engine
	Engine ImageEngine `json:"engine"`

	// Wildcard is the 0-99 percent roast-prompt chance for welcomes
	Wildcard int `json:"wildcard"`

	// PFPAnyone allows all members to use the pfp command when true
	PFPAnyone bool `json:"pfp_anyone"`

	// GenderSensitivity selects the neutral avatar description prompt
	GenderSensitivity bool `json:"gender_sensitivity"`
}

// GenerationLog records one engine attempt (including fallback
// attempts) for auditing and the diagnostics API.
type GenerationLog struct {
	ModelUintID
	ModelUnixTime

	UserID   string `gorm:"index" json:"user_id"`
	Username string `json:"username"`

	// Command is the originating operation ("pfp" or "welcome")
	Command string `json:"command"`

	Engine ImageEngine `json:"engine"`

	Prompt         string `json:"prompt"`
	EnhancedPrompt string `json:"enhanced_prompt,omitempty"`

	// Fallback is true when this attempt ran on the backup engine
	Fallback bool `json:"fallback"`

	ResultKind     string `json:"result_kind,omitempty"`
	ResultLocation string `json:"result_location,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// DBI is the database interface used throughout the bot. Writes are
// serialized behind a mutex, since sqlite only supports one writer.
type DBI interface {
	DB() *gorm.DB

	Create(ctx context.Context, value any) (rowsAffected int64, err error)

	Save(ctx context.Context, value any) (rowsAffected int64, err error)

	Updates(ctx context.Context, model, values any) (
		rowsAffected int64,
		err error,
	)

	// GetImageDescription returns the cached description for the given
	// content hash, if one exists.
	GetImageDescription(ctx context.Context, hash string) (*ImageDescription, error)

	// PutImageDescription stores a description under the given content
	// hash. Writing the same hash twice is not an error.
	PutImageDescription(ctx context.Context, desc *ImageDescription) error

	// NextWelcomeNumber increments and returns the welcome image counter.
	NextWelcomeNumber(ctx context.Context) (int, error)

	// BotState returns the persisted runtime settings, creating the row
	// from the given defaults on first use.
	BotState(ctx context.Context, defaults BotState) (*BotState, error)
}

type database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewDatabase wraps a GORM connection in the DBI interface.
func NewDatabase(db *gorm.DB, log *slog.Logger) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:     db,
		logger: log.With(loggerNameKey, "writedb"),
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Create(ctx context.Context, value any) (
	rowsAffected int64,
	err error,
) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any) (
	rowsAffected int64,
	err error,
) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) GetImageDescription(
	ctx context.Context,
	hash string,
) (*ImageDescription, error) {
	var desc ImageDescription
	err := d.db.WithContext(ctx).Where("hash = ?", hash).First(&desc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &desc, nil
}

func (d *database) PutImageDescription(
	ctx context.Context,
	desc *ImageDescription,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	return d.db.WithContext(ctx).Save(desc).Error
}

func (d *database) NextWelcomeNumber(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}

	var next int
	err := d.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			var wc WelcomeCount
			if err := tx.First(&wc).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			}
			wc.Count++
			next = wc.Count
			return tx.Save(&wc).Error
		},
	)
	return next, err
}

func (d *database) BotState(
	ctx context.Context,
	defaults BotState,
) (*BotState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}

	var state BotState
	err := d.db.WithContext(ctx).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	state = defaults
	if createErr := d.db.WithContext(ctx).Create(&state).Error; createErr != nil {
		return nil, createErr
	}
	d.logger.InfoContext(ctx, "created initial bot state", "state", state)
	return &state, nil
}

// hashImageContent returns the lowercase hex SHA-256 digest of the
// given image bytes, used as the description cache key.
func hashImageContent(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// CreateDB initializes the sqlite database at the given path, running
// migrations as needed.
func CreateDB(ctx context.Context, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(ctx, "Initializing database", "database", database)

	db, err := getDB(database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&ImageDescription{},
		&WelcomeCount{},
		&BotState{},
		&GenerationLog{},
	)
	if err != nil {
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB opens a sqlite GORM connection, creating the parent directory
// if necessary.
func getDB(database string, gormLogger *gormStructuredLogger) (*gorm.DB, error) {
	parentDir := filepath.Dir(database)
	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0755); err != nil {
			if !errors.Is(err, os.ErrExist) {
				return nil, err
			}
		}
	}
	db, err := gorm.Open(
		sqlite.Open(database),
		&gorm.Config{
			Logger: gormLogger,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		},
	)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	pragmaErrors := make([]error, 0, len(sqliteExecPragma))
	for _, p := range sqliteExecPragma {
		pragmaErrors = append(pragmaErrors, db.Exec(p).Error)
	}
	if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
		return nil, fmt.Errorf("error setting sqlite pragmas: %w", pragmaErr)
	}

	return db, nil
}
