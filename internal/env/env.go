// Package env captures details about the buildworker demo environment.
package env

import "os"

// StoreRoot is the root directory the demo LocalStore is rooted at
// unless overridden by -store.
var StoreRoot = findStoreRoot()

func findStoreRoot() string {
	if env := os.Getenv("BUILDWORKER_ROOT"); env != "" {
		return env
	}
	return os.ExpandEnv("$HOME/.buildworker-demo") // default
}
