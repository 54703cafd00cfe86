package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"meshvoice/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 2

func schemaVersionKey(namespace string) string {
	return keyPrefix(namespace) + "schema:version"
}

// Migration upgrades the keyspace of one node namespace.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, prefix string) error
}

// Migrate runs all pending migrations for namespace. Processes sharing a
// namespace serialize on a lock; the loser sees the bumped version.
func Migrate(ctx context.Context, client *redis.Client, namespace string, logger *zap.SugaredLogger) error {
	lock := distributed.NewLock(client, keyPrefix(namespace)+"schema:lock", 30*time.Second)
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && logger != nil {
			logger.Warnw("failed to release migration lock", "error", err)
		}
	}()

	currentVersion, err := getSchemaVersion(ctx, client, namespace)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	prefix := keyPrefix(namespace)
	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version, "namespace", namespace)
		}
		if err := migration.Up(ctx, client, prefix); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, namespace, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client, namespace string) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey(namespace)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, namespace string, version int) error {
	return client.Set(ctx, schemaVersionKey(namespace), version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Version 1: store the channel mode explicitly.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				return client.SetNX(ctx, prefix+"preset", strconv.FormatBool(false), 0).Err()
			},
		},
		{
			// Version 2: index occupied channels so memberships need no key scan.
			Version: 2,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				iter := client.Scan(ctx, 0, prefix+"channel:*:order", 100).Iterator()
				for iter.Next(ctx) {
					key := iter.Val()
					idStr := key[len(prefix+"channel:") : len(key)-len(":order")]
					id, err := strconv.ParseInt(idStr, 10, 64)
					if err != nil {
						continue
					}
					if err := client.SAdd(ctx, prefix+"occupied", id).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
