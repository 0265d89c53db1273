// Package b2 is a small, stateless client for the Backblaze B2 native API (v2).
//
// The client covers the calls a file store needs: account authorization, upload URL
// acquisition, single-request upload, name listing, delete by version, server-side
// copy, download authorization and download by name. It never caches credentials;
// callers own the Authorization and UploadURL values and decide when to refresh them.
//
// # Retries
//
// Every request goes through a retrying HTTP client configured from a RetryPolicy.
// The policy is deliberately uniform: any transport error or non-2xx status is
// retried, up to MaxRetries attempts in total, waiting Delay*attempt between them.
//
//	client := b2.NewClient(
//		b2.WithRetryPolicy(b2.RetryPolicy{MaxRetries: 3, Delay: time.Second}),
//		b2.WithLogger(logger),
//	)
//
//	auth, err := client.AuthorizeAccount(ctx, keyID, applicationKey)
//	if err != nil {
//		return err
//	}
//	up, err := client.GetUploadURL(ctx, auth, bucketID)
//
// # Errors
//
// Failed calls return *APIError carrying the status, code and message from the
// service. IsNotFound and IsUnauthorized answer the questions callers branch on.
// Classify maps any error to a FailureKind for logs; it is not meant for control flow.
package b2
