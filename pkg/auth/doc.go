// Package auth obtains and caches OAuth access tokens for the ingestion
// service.
//
// A Manager is shared by every Send on an engine (and may be shared across
// engines). Acquire returns the cached token while it is valid and refreshes
// it transparently otherwise. Refreshes are single-flight: concurrent callers
// that find the cache stale wait on one token request instead of each issuing
// their own. Cached reads take only a read lock.
//
// Tokens come from the OAuth client-credentials grant at
// {catalog_url}/oidc/v1/token unless a Fetcher is injected.
//
// A Manager built for a dry-run configuration (writer_disabled) is disabled:
// Acquire returns an empty token without any network access.
package auth
