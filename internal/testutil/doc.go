// Package testutil provides testing helpers for the webshield packages.
package testutil
