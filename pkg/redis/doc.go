// Package redis provides helpers for connecting to a Redis server.
//
// The package wraps the go-redis client and adds:
//
//   - Connect, which retries the initial ping with exponential backoff.
//   - MarkerSet, a prefixed set of expiring markers used as a fast "seen
//     before" cache in front of an authoritative store.
//   - Healthcheck, a ping closure for readiness checks.
//
// Configuration is described by the Config struct whose fields are populated
// from environment variables via github.com/caarlos0/env.
//
// # Usage
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	seen := redis.NewMarkerSet(client, "webhook:processed:", 72*time.Hour)
//	if ok, _ := seen.Has(ctx, notificationID); ok {
//		return nil
//	}
package redis
