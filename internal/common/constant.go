package common

import "time"

// AuthorizationHeaderName carries the bearer JWT on inbound HTTP requests.
const AuthorizationHeaderName = "Authorization"

// DefaultBurstKeyTTL is the live window of a burst key when nothing else is configured.
const DefaultBurstKeyTTL = 10 * time.Minute

// BurstKeySecretSize is the number of random bytes behind every burst key secret.
const BurstKeySecretSize = 32
