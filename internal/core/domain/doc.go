// Package domain defines the types shared by every vmstate component.
//
// This package contains:
//
//   - Version: the store's monotonically increasing version counter
//   - SystemState: a full key-value image passed between components
//   - Errors: coded error sentinels matched with errors.Is
//
// It has no dependencies outside the standard library so storage and
// recovery packages can import it without cycles.
package domain
