package database

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"facility-risk/internal/models"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxAttempts = 10

var retryDelay = 2 * time.Second

// Open connects to the configured database, retrying while postgres comes up,
// and applies migrations.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 1; i <= maxAttempts; i++ {
		slog.Info("connecting to database", "driver", driver, "attempt", i, "max", maxAttempts)

		db, err = gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err == nil {
			break
		}

		slog.Warn("database connection failed", "err", err)
		if driver == "sqlite" {
			break
		}
		time.Sleep(retryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if driver == "sqlite" {
		// one connection keeps an in-memory database alive and serializes writers
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Risk{},
		&models.Protocol{},
		&models.Incident{},
		&models.ProtocolExecution{},
		&models.MaterializationEvent{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SeedAdmin creates the default admin unless an admin already exists.
func SeedAdmin(db *gorm.DB, username, email, password string) error {
	var count int64
	if err := db.Model(&models.User{}).
		Where("role = ?", models.RoleAdmin).
		Count(&count).Error; err != nil {
		return fmt.Errorf("check admin user: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := CreateUser(db, username, email, password, models.RoleAdmin); err != nil {
		return err
	}
	slog.Info("created default admin user", "username", username)
	return nil
}

var ErrUserExists = errors.New("user already exists")

func CreateUser(db *gorm.DB, username, email, password string, role models.UserRole) (models.User, error) {
	if !role.Valid() {
		return models.User{}, fmt.Errorf("invalid role %q", role)
	}

	var count int64
	if err := db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return models.User{}, err
	}
	if count > 0 {
		return models.User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if err := db.Create(&user).Error; err != nil {
		return models.User{}, fmt.Errorf("create user %s: %w", username, err)
	}
	return user, nil
}

// Authenticate returns the active user matching the credentials.
func Authenticate(db *gorm.DB, username, password string) (models.User, bool) {
	var user models.User
	if err := db.Where("username = ? AND active = ?", username, true).First(&user).Error; err != nil {
		return models.User{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, false
	}
	return user, true
}
