// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = InitLogger() // setup the logger

// UsersCollection is the credential collection
const UsersCollection = "users"

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
}

// Config holds the connection settings for ArangoDB
type Config struct {
	URL      string
	User     string
	Password string
	Name     string

	// Backoff for the initial connection. MaxElapsed of 0 retries forever.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxFields  []string
	Unique     bool
	Sparse     bool
}

var idxList = []indexConfig{
	// email is stored normalized so a plain unique index gives case-insensitive uniqueness
	{Collection: UsersCollection, IdxName: "users_email_unique", IdxFields: []string{"email"}, Unique: true},
	{Collection: UsersCollection, IdxName: "users_reset_token", IdxFields: []string{"reset_token"}, Sparse: true},
	{Collection: UsersCollection, IdxName: "users_role", IdxFields: []string{"role"}},
	{Collection: UsersCollection, IdxName: "users_created_at", IdxFields: []string{"created_at"}},
}

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// InitLogger sets up the Zap Logger to log to the console in a human readable format
func InitLogger() *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	logger, err := prodConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// InitializeDatabase connects to the db engine and creates the database, collections and indexes
func InitializeDatabase(ctx context.Context, cfg Config) (DBConnection, error) {
	var client arangodb.Client

	//
	// Database connection with backoff retry
	//

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = cfg.MaxElapsed

	err := backoff.RetryNotify(func() error {
		logger.Sugar().Infof("Attempting to connect to ArangoDB at %s", cfg.URL)
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Password))

		client = arangodb.NewClient(conn)

		// Ask the version of the server
		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil

	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		logger.Sugar().Warnf("Retrying connection to ArangoDB in %s: %v", next, err)
	})
	if err != nil {
		return DBConnection{}, fmt.Errorf("connect to arangodb: %w", err)
	}

	//
	// Database creation
	//

	var db arangodb.Database

	exists, err := client.DatabaseExists(ctx, cfg.Name)
	if err != nil {
		return DBConnection{}, fmt.Errorf("check database %s: %w", cfg.Name, err)
	}

	if exists {
		if db, err = client.GetDatabase(ctx, cfg.Name, nil); err != nil {
			return DBConnection{}, fmt.Errorf("failed to get database: %w", err)
		}
	} else {
		if db, err = client.CreateDatabase(ctx, cfg.Name, nil); err != nil {
			return DBConnection{}, fmt.Errorf("failed to create database: %w", err)
		}
	}

	//
	// Collection creation for document storage
	//

	collections := make(map[string]arangodb.Collection)
	collectionNames := []string{UsersCollection}

	for _, collectionName := range collectionNames {
		var col arangodb.Collection

		exists, _ = db.CollectionExists(ctx, collectionName)
		if exists {
			if col, err = db.GetCollection(ctx, collectionName, nil); err != nil {
				return DBConnection{}, fmt.Errorf("failed to use collection %s: %w", collectionName, err)
			}
		} else {
			if col, err = db.CreateCollection(ctx, collectionName, nil); err != nil {
				return DBConnection{}, fmt.Errorf("failed to create collection %s: %w", collectionName, err)
			}
		}

		collections[collectionName] = col
	}

	//
	// Index creation
	//

	if err := ensureIndexes(ctx, collections, idxList); err != nil {
		return DBConnection{}, err
	}

	logger.Sugar().Infof("Database initialization complete")

	return DBConnection{
		Database:    db,
		Collections: collections,
	}, nil
}

func ensureIndexes(ctx context.Context, collections map[string]arangodb.Collection, list []indexConfig) error {
	for _, idx := range list {
		col, ok := collections[idx.Collection]
		if !ok {
			return fmt.Errorf("index %s: unknown collection %s", idx.IdxName, idx.Collection)
		}

		found := false
		if indexes, err := col.Indexes(ctx); err == nil {
			for _, index := range indexes {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}
		if found {
			continue
		}

		unique := idx.Unique
		sparse := idx.Sparse
		indexOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &unique,
			Sparse: &sparse,
			Name:   idx.IdxName,
		}

		if _, _, err := col.EnsurePersistentIndex(ctx, idx.IdxFields, &indexOptions); err != nil {
			return fmt.Errorf("error creating index %s: %w", idx.IdxName, err)
		}
		logger.Sugar().Infof("Created index: %s on %s.%v", idx.IdxName, idx.Collection, idx.IdxFields)
	}
	return nil
}
