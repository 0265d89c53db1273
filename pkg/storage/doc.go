// Package storage provides one file persistence contract over several backends.
//
// The Storage interface covers upload, download, delete, existence checks,
// metadata lookup, server-side copy and time-limited URLs. Four implementations
// ship with the package:
//
//   - LocalStorage writes payloads under a base directory with a JSON sidecar
//     (`key.meta`) holding the content type and metadata. URLs are the base URL
//     plus the key and are never signed.
//   - S3Storage wraps aws-sdk-go-v2. Every operation is one signed request and
//     every URL it returns is presigned.
//   - MinIOStorage wraps minio-go with the same behaviour as S3Storage.
//   - B2Storage speaks the Backblaze B2 native API through package b2. It
//     caches an account session (re-authorized after AccountSessionTTL) and an
//     upload session (replaced when an upload fails), and can namespace every
//     object under a tenant prefix that callers never see.
//
// # Choosing a provider
//
// New reads Config.Provider and builds the matching implementation. An empty
// or unknown value logs a warning and falls back to LocalStorage, so selection
// itself never fails. Missing credentials for a cloud provider do fail, with
// ErrInvalidConfig.
//
//	cfg, err := storage.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := storage.MustNew(ctx, cfg,
//		storage.WithLogger(logger),
//		storage.WithMetrics(prometheus.DefaultRegisterer),
//	)
//
//	key := storage.GenerateKey("avatars", header.Filename, userID)
//	res, err := store.Upload(ctx, key, data, storage.DetectContentType(data, header.Filename), nil)
//
// # Errors
//
// Providers translate SDK and transport errors into the sentinel errors of this
// package. Use errors.Is to branch:
//
//	if errors.Is(err, storage.ErrNotFound) {
//		// 404
//	}
//
// Deleting a missing object is never an error. Exists returns false, nil for a
// missing object; B2Storage also reports false when the lookup request fails.
//
// # Keys
//
// GenerateKey produces collision-resistant keys of the form
// folder[/prefix]/{unixMillis}-{token}-{sanitizedName}. The key a provider
// returns from Upload is always the key the caller passed in.
package storage
