// Package util provides small helpers shared across the webshield packages.
package util
