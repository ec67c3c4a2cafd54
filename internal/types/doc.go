// Package types contains small generic containers shared by the library packages.
package types
