// Package client is a thin REST client for the dispatcher API, used by
// the gridpull CLI and embeddable in other Go programs.
package client
