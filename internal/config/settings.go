package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultDatabaseName is used when the configuration does not name a database.
const DefaultDatabaseName = "newsletter"

// DefaultHealthCacheValidity applies when application.healthcachevalidityms is unset.
const DefaultHealthCacheValidity = 1000 * time.Millisecond

type Settings struct {
	Application ApplicationSettings `mapstructure:"application"`
	Admin       *AdminSettings      `mapstructure:"admin"`
	Database    DatabaseSettings    `mapstructure:"database"`
}

type ApplicationSettings struct {
	Address               string `mapstructure:"address"`
	Port                  int    `mapstructure:"port"`
	HealthCacheValidityMS int    `mapstructure:"healthcachevalidityms"`
	LogLevel              string `mapstructure:"loglevel"`
}

// AdminSettings configures the optional observability listener.
type AdminSettings struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type DatabaseSettings struct {
	Host      string            `mapstructure:"host"`
	Port      int               `mapstructure:"port"`
	Username  string            `mapstructure:"username"`
	Password  Secret            `mapstructure:"password"`
	Database  string            `mapstructure:"database"`
	SSL       SSLSettings       `mapstructure:"ssl"`
	Migration MigrationSettings `mapstructure:"migration"`
}

type SSLSettings struct {
	TLS            bool   `mapstructure:"tls"`
	CACertificates string `mapstructure:"cacertificates"`
}

type MigrationSettings struct {
	Migrate bool   `mapstructure:"migrate"`
	Folder  string `mapstructure:"folder"`
}

// HealthCacheValidity returns the configured refresh period of the health cache.
func (a ApplicationSettings) HealthCacheValidity() time.Duration {
	if a.HealthCacheValidityMS <= 0 {
		return DefaultHealthCacheValidity
	}
	return time.Duration(a.HealthCacheValidityMS) * time.Millisecond
}

func (a ApplicationSettings) ListenAddr() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

func (a AdminSettings) ListenAddr() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

// Validate reports the first structural problem with the settings.
func (s *Settings) Validate() error {
	if err := validPort("application.port", s.Application.Port); err != nil {
		return err
	}
	if s.Admin != nil {
		if err := validPort("admin.port", s.Admin.Port); err != nil {
			return err
		}
	}
	if strings.TrimSpace(s.Database.Host) == "" {
		return errors.New("database.host is required")
	}
	if strings.TrimSpace(s.Database.Username) == "" {
		return errors.New("database.username is required")
	}
	return validPort("database.port", s.Database.Port)
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

// DefaultDatabase fills in DefaultDatabaseName when no database is
// configured and reports whether it did so.
func (d *DatabaseSettings) DefaultDatabase() bool {
	if strings.TrimSpace(d.Database) != "" {
		return false
	}
	d.Database = DefaultDatabaseName
	return true
}

// ConnectionString returns the URI for the configured database, or the
// server-level URI when no database is set.
func (d DatabaseSettings) ConnectionString() Secret {
	u := d.url(d.Database)
	return NewSecretWithDisplay(u.String(), u.Redacted())
}

// ConnectionStringWithoutDatabase returns the server-level URI used for
// administrative statements such as CREATE DATABASE.
func (d DatabaseSettings) ConnectionStringWithoutDatabase() Secret {
	u := d.url("")
	return NewSecretWithDisplay(u.String(), u.Redacted())
}

func (d DatabaseSettings) url(database string) *url.URL {
	u := &url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/",
	}
	if d.Password.IsZero() {
		u.User = url.User(d.Username)
	} else {
		u.User = url.UserPassword(d.Username, d.Password.Expose())
	}
	if database != "" {
		u.Path = "/" + database
	}
	return u
}
